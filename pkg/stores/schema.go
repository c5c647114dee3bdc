package stores

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"

	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/voxdesk/voxdesk/pkg/telemetry"
)

//go:embed schema
var schemaFS embed.FS

// SchemaStep is one transactional unit of provisioning.
type SchemaStep struct {
	Name       string
	Statements []Statement
}

// Provisioner creates the tables a store needs. Every statement is
// idempotent, so provisioning the same store twice is harmless.
type Provisioner struct {
	driver string
	fsys   fs.FS
	logger *telemetry.Logger
	events *telemetry.EventPublisher
}

// NewProvisioner returns a provisioner for the embedded schema of driver.
func NewProvisioner(driver string, tel *telemetry.Telemetry) *Provisioner {
	if tel == nil {
		tel = telemetry.Nop()
	}
	return &Provisioner{
		driver: driverName(driver),
		fsys:   schemaFS,
		logger: tel.Logger.NewComponentLogger("schema"),
		events: tel.Events,
	}
}

// Plan lists the steps for a store: identity tables first (local only),
// then the general tables, then every versioned migration in order.
func (p *Provisioner) Plan(identity bool) ([]SchemaStep, error) {
	root := path.Join("schema", p.driver)
	var steps []SchemaStep

	if identity {
		step, err := p.readStep(path.Join(root, "identity.sql"), "identity")
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	step, err := p.readStep(path.Join(root, "tables.sql"), "tables")
	if err != nil {
		return nil, err
	}
	steps = append(steps, step)

	migrations, err := p.migrationSteps(path.Join(root, "migrations"))
	if err != nil {
		return nil, err
	}
	return append(steps, migrations...), nil
}

func (p *Provisioner) readStep(name, label string) (SchemaStep, error) {
	data, err := fs.ReadFile(p.fsys, name)
	if err != nil {
		return SchemaStep{}, fmt.Errorf("failed to read schema %s: %w", name, err)
	}
	return SchemaStep{Name: label, Statements: SplitStatements(p.driver, string(data))}, nil
}

// migrationSteps walks the versioned scripts with the migrate iofs source
// so ordering and file naming follow golang-migrate conventions.
func (p *Provisioner) migrationSteps(dir string) ([]SchemaStep, error) {
	src, err := iofs.New(p.fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}
	defer src.Close()

	var steps []SchemaStep
	version, err := src.First()
	for err == nil {
		r, ident, rerr := src.ReadUp(version)
		if rerr != nil {
			return nil, fmt.Errorf("failed to read migration %d: %w", version, rerr)
		}
		data, rerr := io.ReadAll(r)
		r.Close()
		if rerr != nil {
			return nil, fmt.Errorf("failed to read migration %d: %w", version, rerr)
		}

		steps = append(steps, SchemaStep{
			Name:       fmt.Sprintf("%04d_%s", version, ident),
			Statements: SplitStatements(p.driver, string(data)),
		})
		version, err = src.Next(version)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	return steps, nil
}

// Provision applies Plan(identity) to h. Each step runs in its own
// transaction under the retry policy of ex, which should be strict so a
// failed step is reported. It bypasses routing and replication: the
// caller chose h.
func (p *Provisioner) Provision(ctx context.Context, ex *Executor, h *Handle, identity bool) error {
	steps, err := p.Plan(identity)
	if err != nil {
		return &StoreError{Kind: KindConfiguration, Op: "provision", Target: h.Target(), Err: err}
	}

	total := 0
	names := make([]string, 0, len(steps))
	for _, step := range steps {
		_, err := RunWithRetry(ctx, ex, "provision", KindTransaction, func(ctx context.Context, attempt int) Outcome[struct{}] {
			if err := txOn(ctx, h, step.Statements); err != nil {
				return Retry[struct{}](err)
			}
			return Succeed(struct{}{})
		})
		if err != nil {
			p.logger.WithTarget(string(h.Target())).WithError(err).
				Errorf("Error syncing schema step %s", step.Name)
			if se, ok := err.(*StoreError); ok {
				se.Target = h.Target()
				se.Message = "schema step " + step.Name + " failed"
			}
			return err
		}
		total += len(step.Statements)
		names = append(names, step.Name)
	}

	p.logger.WithTarget(string(h.Target())).Infof("Successfully synced schema to %s database", h.Target())
	_ = p.events.PublishSchemaProvisioned(string(h.Target()), total, names)
	return nil
}
