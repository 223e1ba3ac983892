package main

import (
	"os"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/roclient/internal/forms"
	"github.com/TheMichaelB/roclient/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the server, login and active profile",
	RunE:  runStatus,
}

var statusTemplate = template.Must(template.New("status").Parse(`Server:   {{.server}}
Login:    {{if .login}}{{.login}}{{else}}not logged in{{end}}
Profile:  {{with .profile}}{{.Label}} ({{.ID}}){{else}}none{{end}}
Password: {{if .unlocked}}cached{{else}}not cached{{end}}
Profiles: {{.count}}
CSRF:     {{if .csrf_token}}present{{else}}missing{{end}}
`))

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := startClient(cmd); err != nil {
		return err
	}

	var active *models.Profile
	if p, ok := apiClient.Registry.Active(); ok {
		active = &p
	}

	login := ""
	if s := apiClient.Auth.Current(); s != nil {
		login = s.Login
	}

	vals := forms.TemplateContext(apiClient.Session, active, map[string]interface{}{
		"server":   cfg.API.BaseURL,
		"login":    login,
		"unlocked": apiClient.Credential.Has(),
		"count":    apiClient.Registry.Len(),
	})

	if jsonOutput {
		// The token itself stays out of the output.
		vals[forms.CSRFField] = apiClient.Session.CSRFToken() != ""
		vals["success"] = true
		printJSON(vals)
		return nil
	}

	return statusTemplate.Execute(os.Stdout, vals)
}
