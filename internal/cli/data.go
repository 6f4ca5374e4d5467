package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"whatsched/internal/domain"
	"whatsched/internal/storage"
)

func newDBCmd(g *globals) *cobra.Command {
	db := &cobra.Command{Use: "db", Short: "Manage the contact database"}
	db.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Opening applies the schema.
			return g.withStore(cmd, func(_ context.Context, _ storage.Store, out io.Writer) error {
				fmt.Fprintf(out, "database ready (%s)\n", g.configPath)
				return nil
			})
		},
	})
	return db
}

func newContactsCmd(g *globals) *cobra.Command {
	c := &cobra.Command{Use: "contacts", Aliases: []string{"friends"}, Short: "Manage individual contacts"}
	c.AddCommand(
		&cobra.Command{
			Use:   "add <name> <number>",
			Short: "Add a friend",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.withStore(cmd, func(ctx context.Context, st storage.Store, out io.Writer) error {
					r, err := st.AddFriend(ctx, args[0], args[1])
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "added friend %d %s (%s)\n", r.ID, r.Name, r.Address)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List friends",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return g.withStore(cmd, func(ctx context.Context, st storage.Store, out io.Writer) error {
					rs, err := st.ListRecipients(ctx, domain.KindIndividual)
					if err != nil {
						return err
					}
					return printRecipients(out, rs, nil)
				})
			},
		},
	)
	return c
}

func newGroupsCmd(g *globals) *cobra.Command {
	c := &cobra.Command{Use: "groups", Short: "Manage groups"}

	var address string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a group; with --address it is sent to as one chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withStore(cmd, func(ctx context.Context, st storage.Store, out io.Writer) error {
				r, err := st.AddGroup(ctx, args[0], address)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "added group %d %s\n", r.ID, r.Name)
				return nil
			})
		},
	}
	add.Flags().StringVar(&address, "address", "", "group chat handle, e.g. 120363...@g.us")

	c.AddCommand(
		add,
		&cobra.Command{
			Use:   "add-member <group> <friend>",
			Short: "Add a friend to a group",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.withStore(cmd, func(ctx context.Context, st storage.Store, out io.Writer) error {
					grp, err := st.FindRecipient(ctx, domain.KindGroup, args[0])
					if err != nil {
						return err
					}
					f, err := st.FindRecipient(ctx, domain.KindIndividual, args[1])
					if err != nil {
						return err
					}
					if err := st.AddGroupMember(ctx, grp.ID, f.ID); err != nil {
						return err
					}
					fmt.Fprintf(out, "%s is in %s\n", f.Name, grp.Name)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List groups and members",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return g.withStore(cmd, func(ctx context.Context, st storage.Store, out io.Writer) error {
					rs, err := st.ListRecipients(ctx, domain.KindGroup)
					if err != nil {
						return err
					}
					members := make(map[int64][]string, len(rs))
					for _, r := range rs {
						ms, err := st.GroupMembers(ctx, r.ID)
						if err != nil {
							return err
						}
						for _, m := range ms {
							members[r.ID] = append(members[r.ID], m.Name)
						}
					}
					return printRecipients(out, rs, members)
				})
			},
		},
	)
	return c
}

func newTemplatesCmd(g *globals) *cobra.Command {
	c := &cobra.Command{Use: "templates", Short: "Manage message templates"}

	var image bool
	add := &cobra.Command{
		Use:   "add <category> <text>",
		Short: "Add a template; with --image the text is a media URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withStore(cmd, func(ctx context.Context, st storage.Store, out io.Writer) error {
				t, err := st.AddTemplate(ctx, strings.ToLower(args[0]), args[1], image)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "added template %d in %s\n", t.ID, t.Category)
				return nil
			})
		},
	}
	add.Flags().BoolVar(&image, "image", false, "text is an image URL")

	c.AddCommand(
		add,
		&cobra.Command{
			Use:   "list [category]",
			Short: "List templates",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				category := ""
				if len(args) == 1 {
					category = strings.ToLower(args[0])
				}
				return g.withStore(cmd, func(ctx context.Context, st storage.Store, out io.Writer) error {
					ts, err := st.ListTemplates(ctx, category)
					if err != nil {
						return err
					}
					if len(ts) == 0 {
						fmt.Fprintln(out, "no templates")
						return nil
					}
					w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tCATEGORY\tIMAGE\tTEXT")
					for _, t := range ts {
						fmt.Fprintf(w, "%d\t%s\t%t\t%s\n", t.ID, t.Category, t.IsImage, oneLine(t.Text, 60))
					}
					return w.Flush()
				})
			},
		},
	)
	return c
}

func printRecipients(out io.Writer, rs []domain.Recipient, members map[int64][]string) error {
	if len(rs) == 0 {
		fmt.Fprintln(out, "none")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if members == nil {
		fmt.Fprintln(w, "ID\tNAME\tNUMBER")
	} else {
		fmt.Fprintln(w, "ID\tNAME\tADDRESS\tMEMBERS")
	}
	for _, r := range rs {
		if members == nil {
			fmt.Fprintf(w, "%d\t%s\t%s\n", r.ID, r.Name, r.Address)
			continue
		}
		addr := r.Address
		if addr == "" {
			addr = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.ID, r.Name, addr, strings.Join(members[r.ID], ", "))
	}
	return w.Flush()
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
