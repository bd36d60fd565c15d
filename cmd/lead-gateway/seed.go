// ABOUTME: seed subcommand loading organizations, contacts and products from YAML
// ABOUTME: Rows that already exist are skipped so a fixture can be re-applied

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/salesgenio/lead-gateway/internal/config"
	"github.com/salesgenio/lead-gateway/internal/store"
)

// Fixture is the seed file layout.
type Fixture struct {
	Organizations []OrganizationFixture `yaml:"organizations"`
}

// OrganizationFixture describes one organization with its contacts and catalog.
type OrganizationFixture struct {
	ID            string           `yaml:"id"`
	Name          string           `yaml:"name"`
	BusinessModel string           `yaml:"business_model"`
	Industry      string           `yaml:"industry"`
	Website       string           `yaml:"website"`
	MeetingLink   string           `yaml:"meeting_link"`
	PhoneNumberID string           `yaml:"phone_number_id"`
	Contacts      []ContactFixture `yaml:"contacts"`
	Products      []ProductFixture `yaml:"products"`
}

type ContactFixture struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Phone string `yaml:"phone"`
}

type ProductFixture struct {
	ID          string  `yaml:"id"`
	Title       string  `yaml:"title"`
	Description string  `yaml:"description"`
	Price       float64 `yaml:"price"`
	Available   *bool   `yaml:"available"` // defaults to true
}

// seedResult counts rows created and skipped.
type seedResult struct {
	Organizations int
	Contacts      int
	Products      int
	Skipped       int
}

func loadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	for i, org := range f.Organizations {
		if org.ID == "" {
			return nil, fmt.Errorf("organization %d: id is required", i)
		}
		if org.BusinessModel != "" && !store.BusinessModel(org.BusinessModel).Valid() {
			return nil, fmt.Errorf("organization %s: invalid business_model %q", org.ID, org.BusinessModel)
		}
	}
	return &f, nil
}

// applyFixture writes every row in f. ErrDuplicate rows are counted as skipped.
func applyFixture(ctx context.Context, s store.Store, f *Fixture) (seedResult, error) {
	var res seedResult

	created := func(err error, counter *int, what string) error {
		switch {
		case err == nil:
			*counter++
			return nil
		case errors.Is(err, store.ErrDuplicate):
			res.Skipped++
			return nil
		default:
			return fmt.Errorf("creating %s: %w", what, err)
		}
	}

	for _, of := range f.Organizations {
		org := &store.Organization{
			ID:            of.ID,
			Name:          of.Name,
			BusinessModel: store.BusinessModel(of.BusinessModel),
			Industry:      of.Industry,
			Website:       of.Website,
			MeetingLink:   of.MeetingLink,
			PhoneNumberID: of.PhoneNumberID,
		}
		if err := created(s.CreateOrganization(ctx, org), &res.Organizations, "organization "+of.ID); err != nil {
			return res, err
		}

		for _, cf := range of.Contacts {
			contact := &store.Contact{
				ID:             cf.ID,
				OrganizationID: of.ID,
				Name:           cf.Name,
				Phone:          cf.Phone,
			}
			if err := created(s.CreateContact(ctx, contact), &res.Contacts, "contact "+cf.Phone); err != nil {
				return res, err
			}
		}

		for _, pf := range of.Products {
			available := true
			if pf.Available != nil {
				available = *pf.Available
			}
			product := &store.Product{
				ID:               pf.ID,
				OrganizationID:   of.ID,
				Title:            pf.Title,
				Description:      pf.Description,
				PricePerQuantity: pf.Price,
				Available:        available,
			}
			if err := created(s.CreateProduct(ctx, product), &res.Products, "product "+pf.Title); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

func runSeed(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	file := fs.String("file", "", "Path to the YAML fixture")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("--file is required")
	}

	fixture, err := loadFixture(*file)
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("LEAD_GATEWAY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	res, err := applyFixture(ctx, s, fixture)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "seeded %d organizations, %d contacts, %d products (%d already present)\n",
		res.Organizations, res.Contacts, res.Products, res.Skipped)
	return nil
}
