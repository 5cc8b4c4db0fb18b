package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/portalchat/internal/models"
	"github.com/Tyrowin/portalchat/internal/session"
)

func newUsersCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List portal users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			var users []models.PublicUser
			err = st.View(cmd.Context(), func(doc *models.Document) error {
				for i := range doc.Users {
					users = append(users, doc.Users[i].Public())
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("read users: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(users) == 0 {
				_, _ = fmt.Fprintln(out, headerStyle.Render("No users found"))
				return nil
			}
			_, _ = fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Found %d user(s)", len(users))))
			_, _ = fmt.Fprintln(out)

			t := newTable(out, "ID", "Name", "Email", "Role", "Theme", "Last login")
			for _, u := range users {
				last := dimStyle.Render("never")
				if !u.LastLogin.IsZero() {
					last = dimStyle.Render(u.LastLogin.Local().Format("2006-01-02 15:04"))
				}
				t.row(
					strconv.FormatInt(u.ID, 10),
					u.Name,
					u.Email,
					roleStyle.Render(string(u.Role)),
					u.SelectedTheme,
					last,
				)
			}
			return t.flush()
		},
	}

	cmd.AddCommand(newUsersAddCommand(a))
	return cmd
}

func newUsersAddCommand(a *app) *cobra.Command {
	var (
		name       string
		email      string
		credential string
		role       string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user or reset an existing one",
		Long: `Creates a user with the given role, or updates the name, credential and role
of the user that already has this email. This is the only way to grant the
admin1 and admin2 roles.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			gate := session.NewGate(st, session.NewRegistry(a.cfg.Session.TTL), a.cfg.Session, a.logger)
			user, err := gate.Provision(cmd.Context(), name, email, credential, models.Role(role))
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s (id %d, role %s)\n",
				headerStyle.Render("Saved"), user.Email, user.ID, roleStyle.Render(string(user.Role)))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&name, "name", "", "Display name")
	f.StringVar(&email, "email", "", "Login email")
	f.StringVar(&credential, "credential", "", "Login credential")
	f.StringVar(&role, "role", string(models.RoleUser), "Role: user, admin1 or admin2")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("credential")
	return cmd
}
