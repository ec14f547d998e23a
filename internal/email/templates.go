package email

const emailStyle = `<style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #323338; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #6161ff; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #6161ff; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #676879; }
        .link { word-break: break-all; color: #6161ff; }
    </style>`

const verificationEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Confirm your {{.AppName}} account</title>
    ` + emailStyle + `
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>Welcome{{if .UserName}}, {{.UserName}}{{end}}!</h2>
    <p>Confirm your email address to finish setting up your account.</p>
    <p><a href="{{.VerificationURL}}" class="button">Confirm email</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.VerificationURL}}</p>
    <p>This link expires in 24 hours.</p>
    <div class="footer"><p>If you didn't sign up for {{.AppName}}, you can ignore this email.</p></div>
</body>
</html>`

const inviteEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Join {{.OrganizationName}} on {{.AppName}}</title>
    ` + emailStyle + `
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>You're invited to {{.OrganizationName}}</h2>
    <p>{{.InviterName}} invited you to join <strong>{{.OrganizationName}}</strong> as {{.Role}}.</p>
    <p><a href="{{.AcceptURL}}" class="button">Accept invitation</a></p>
    <p class="link">{{.AcceptURL}}</p>
    <div class="footer"><p>Sign up with this email address to accept.</p></div>
</body>
</html>`

const workflowEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Subject}}</title>
    ` + emailStyle + `
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>{{.Subject}}</h2>
    <p>{{.Message}}</p>
    <div class="footer"><p>Sent by the {{.TemplateName}} workflow.</p></div>
</body>
</html>`
