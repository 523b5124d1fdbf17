package mailer

import (
	"bytes"
	"fmt"
	"html/template"
)

// RoleChangeData feeds the role-change notification template.
type RoleChangeData struct {
	UserName  string
	RoleName  string
	ActorName string
	Granted   bool
}

var roleChangeTmpl = template.Must(template.New("role_change").Parse(`<!DOCTYPE html>
<html>
  <body style="font-family: sans-serif; color: #1f2937; max-width: 560px; margin: 0 auto;">
    <h2 style="color: #111827;">Your access level has changed</h2>
    <p>Hi {{.UserName}},</p>
    {{if .Granted}}
    <p>The <strong>{{.RoleName}}</strong> role has been granted to your account by {{.ActorName}}.</p>
    {{else}}
    <p>The <strong>{{.RoleName}}</strong> role has been removed from your account by {{.ActorName}}.</p>
    {{end}}
    <p>If you believe this change was made in error, please contact an administrator.</p>
    <p style="color: #6b7280; font-size: 12px;">This is an automated message from EngageTrack.</p>
  </body>
</html>`))

// RenderRoleChange produces the subject and HTML body for a role-change
// notification.
func RenderRoleChange(data RoleChangeData) (subject, html string, err error) {
	if data.UserName == "" {
		data.UserName = "there"
	}
	if data.ActorName == "" {
		data.ActorName = "an administrator"
	}
	var buf bytes.Buffer
	if err := roleChangeTmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("mailer: render role change: %w", err)
	}
	if data.Granted {
		subject = fmt.Sprintf("You have been granted the %s role", data.RoleName)
	} else {
		subject = fmt.Sprintf("The %s role has been removed from your account", data.RoleName)
	}
	return subject, buf.String(), nil
}
