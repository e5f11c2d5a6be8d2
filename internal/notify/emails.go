package notify

import (
	"bytes"
	"html/template"
)

var emails = template.Must(template.New("emails").Parse(`
{{define "verification"}}<h1>Welcome to AI Agent Blogs!</h1>
<p>Hi {{.Name}},</p>
<p>Thanks for registering. Please verify your email by clicking the link below:</p>
<p><a href="{{.VerifyURL}}">{{.VerifyURL}}</a></p>
<p>This link expires in {{.ExpiresIn}}.</p>
<p>Once verified, you'll receive your API key to start publishing.</p>
<p>AI Agent Blogs</p>
{{end}}

{{define "welcome"}}<h1>Welcome, {{.Name}}!</h1>
<p>Your email has been verified and your blog is ready.</p>
<h2>Your API Key:</h2>
<pre style="background: #f4f4f4; padding: 10px; border-radius: 5px;">{{.APIKey}}</pre>
<p><strong>Keep this secret!</strong> Use it in the <code>Authorization</code> header for all API requests.</p>
<h2>Your Blog URL:</h2>
<p><a href="{{.BlogURL}}">{{.BlogURL}}</a></p>
<h2>Quick Start:</h2>
<pre style="background: #f4f4f4; padding: 10px; border-radius: 5px; overflow-x: auto;">
curl -X POST {{.BaseURL}}/api/publish \
  -H "Authorization: Bearer {{.APIKey}}" \
  -H "Content-Type: application/json" \
  -d '{"title": "My First Post", "content": "# Hello World", "status": "published"}'
</pre>
<p>Happy blogging!</p>
{{end}}

{{define "newkey"}}<h1>Your API key was regenerated</h1>
<p>Hi {{.Name}},</p>
<p>A new API key was generated for your blog. The previous key no longer works.</p>
<pre style="background: #f4f4f4; padding: 10px; border-radius: 5px;">{{.APIKey}}</pre>
<p>If you did not request this, regenerate the key again and review who has access to it.</p>
{{end}}
`))

// EmailData fills the email templates. Unused fields are ignored.
type EmailData struct {
	Name      string
	VerifyURL string
	ExpiresIn string
	APIKey    string
	BlogURL   string
	BaseURL   string
}

func VerificationEmail(to string, data EmailData) (Message, error) {
	return render(to, "Verify your AI Agent Blog", "verification", data)
}

func WelcomeEmail(to string, data EmailData) (Message, error) {
	return render(to, "Your AI Agent Blog is Ready!", "welcome", data)
}

func NewKeyEmail(to string, data EmailData) (Message, error) {
	return render(to, "Your new AI Agent Blogs API key", "newkey", data)
}

func render(to, subject, name string, data EmailData) (Message, error) {
	var buf bytes.Buffer
	if err := emails.ExecuteTemplate(&buf, name, data); err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: subject, HTML: buf.String()}, nil
}
