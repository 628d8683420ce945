// ABOUTME: seed command populating a development store without going through the bridge
// ABOUTME: Writes directly to the SQLite backend the server will later open

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/mapi-bridge/internal/mapi"
	"github.com/2389/mapi-bridge/internal/mapi/sqlitestore"
)

type seedContact struct {
	given, surname, email, company string
}

var seedContacts = []seedContact{
	{"Ada", "Lovelace", "ada@analytical.example", "Analytical Engines"},
	{"Grace", "Hopper", "grace@cobol.example", "US Navy"},
	{"Katherine", "Johnson", "katherine@nasa.example", "NASA"},
	{"Alan", "Turing", "alan@bletchley.example", "Bletchley Park"},
	{"Edsger", "Dijkstra", "edsger@eindhoven.example", "TU Eindhoven"},
}

var seedAppointments = []string{
	"Quarterly planning",
	"Dentist",
	"Compiler reading group",
}

// placeholderPhoto stands in for a contact picture.
var placeholderPhoto = []byte("\x89PNG\r\n\x1a\nplaceholder")

func newSeedCommand(opts *rootOptions) *cobra.Command {
	var archive bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the configured development store with sample contacts and appointments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Store.Path == "" {
				return errors.New("no store configured: pass --store or set store.path")
			}
			p, err := sqlitestore.Open(cfg.Store.Path, sqlitestore.WithDriver(cfg.Store.Driver), sqlitestore.WithLogger(logger))
			if err != nil {
				return err
			}
			defer p.Close()

			n, err := seed(cmd.Context(), p, cfg.Store.Profile, archive)
			if err != nil {
				return err
			}
			return opts.printer(cmd).record("store", cfg.Store.Path, "created", n)
		},
	}
	cmd.Flags().BoolVar(&archive, "archive", false, "also create an archive store with a nested folder")
	return cmd
}

// seed returns how many messages it created.
func seed(ctx context.Context, p *sqlitestore.Provider, profile string, archive bool) (int, error) {
	sess, err := p.Logon(ctx, profile, mapi.LogonExtended)
	if err != nil {
		return 0, err
	}
	defer sess.Logoff(ctx)

	rows, err := sess.StoreTable().Rows(ctx)
	if err != nil {
		return 0, err
	}
	var storeID mapi.EntryID
	for _, r := range rows {
		if r.Default {
			storeID = r.EntryID
		}
	}
	if storeID == nil {
		if storeID, err = p.CreateStore(ctx, "Mailbox", true); err != nil {
			return 0, err
		}
	}

	st, err := sess.OpenStore(ctx, storeID)
	if err != nil {
		return 0, err
	}
	created := 0

	contacts, err := defaultFolder(ctx, sess, st, mapi.FolderContacts)
	if err != nil {
		return created, err
	}
	for i, c := range seedContacts {
		msg, err := contacts.CreateMessage(ctx, mapi.ClassContact)
		if err != nil {
			return created, err
		}
		created++
		err = msg.SetProps(ctx, []mapi.PropValue{
			mapi.StringValue(mapi.PropTagDisplayName, c.given+" "+c.surname),
			mapi.StringValue(mapi.PropTagGivenName, c.given),
			mapi.StringValue(mapi.PropTagSurname, c.surname),
			mapi.StringValue(mapi.PropTagEmailAddress, c.email),
			mapi.StringValue(mapi.PropTagCompanyName, c.company),
		})
		if err != nil {
			return created, err
		}
		if i == 0 {
			att := mapi.Attachment{Filename: "ContactPicture.png", ContactPhoto: true, Data: placeholderPhoto}
			if err := p.AddAttachment(ctx, msg.EntryID(), att); err != nil {
				return created, err
			}
		}
	}

	calendar, err := defaultFolder(ctx, sess, st, mapi.FolderCalendar)
	if err != nil {
		return created, err
	}
	for _, subject := range seedAppointments {
		msg, err := calendar.CreateMessage(ctx, mapi.ClassAppointment)
		if err != nil {
			return created, err
		}
		created++
		if err := msg.SetProps(ctx, []mapi.PropValue{mapi.StringValue(mapi.PropTagSubject, subject)}); err != nil {
			return created, err
		}
	}

	if archive {
		n, err := seedArchive(ctx, p, sess)
		created += n
		if err != nil {
			return created, err
		}
	}
	return created, nil
}

func seedArchive(ctx context.Context, p *sqlitestore.Provider, sess mapi.Session) (int, error) {
	storeID, err := p.CreateStore(ctx, fmt.Sprintf("Archive %d", time.Now().Year()), false)
	if err != nil {
		return 0, err
	}
	st, err := sess.OpenStore(ctx, storeID)
	if err != nil {
		return 0, err
	}
	parent, err := st.DefaultFolderID(ctx, mapi.FolderContacts)
	if err != nil {
		return 0, err
	}
	folderID, err := p.CreateFolder(ctx, parent, "Former colleagues", mapi.ContainerContacts)
	if err != nil {
		return 0, err
	}
	folder, err := sess.OpenFolder(ctx, folderID)
	if err != nil {
		return 0, err
	}
	msg, err := folder.CreateMessage(ctx, mapi.ClassContact)
	if err != nil {
		return 0, err
	}
	return 1, msg.SetProps(ctx, []mapi.PropValue{mapi.StringValue(mapi.PropTagDisplayName, "Charles Babbage")})
}

func defaultFolder(ctx context.Context, sess mapi.Session, st mapi.Store, kind mapi.FolderKind) (mapi.Folder, error) {
	id, err := st.DefaultFolderID(ctx, kind)
	if err != nil {
		return nil, err
	}
	return sess.OpenFolder(ctx, id)
}
