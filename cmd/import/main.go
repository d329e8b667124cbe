package main

import (
	"context"
	"fmt"
	"os"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/fatih/color"
	json "github.com/goccy/go-json"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"test-asset-service/internal/app"
	"test-asset-service/internal/lock"
	"test-asset-service/internal/models"
	"test-asset-service/internal/repository"
	"test-asset-service/internal/service"
	"test-asset-service/internal/steps"
)

// ModuleData is one module of the import file with its subtree.
type ModuleData struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Children    []ModuleData   `json:"children"`
	Cases       []TestCaseData `json:"cases"`
}

// TestCaseData is one test case of the import file.
type TestCaseData struct {
	Title         string            `json:"title"`
	Type          string            `json:"type"`
	Priority      models.Priority   `json:"priority"`
	Automated     bool              `json:"automated"`
	Objective     string            `json:"objective"`
	Preconditions string            `json:"preconditions"`
	Tags          []string          `json:"tags"`
	Steps         []steps.StepInput `json:"steps"`
}

// ImportFile is the top-level document.
type ImportFile struct {
	ProjectID uint         `json:"projectId"`
	Modules   []ModuleData `json:"modules"`
}

var importArgs struct {
	config   string
	data     string
	operator uint
	project  uint
}

func main() {
	root := &cobra.Command{
		Use:          "asset-import",
		Short:        "Import module trees, test cases and steps from a JSON file",
		SilenceUsage: true,
		RunE:         runImport,
	}
	root.Flags().StringVar(&importArgs.config, "config", "", "path to the TOML config file (default $CONFIG_FILE or config.toml)")
	root.Flags().StringVar(&importArgs.data, "data", "examples/sample-assets.json", "path to the import JSON file")
	root.Flags().UintVar(&importArgs.operator, "operator", 1, "operator id recorded on every created row")
	root.Flags().UintVar(&importArgs.project, "project", 0, "override the projectId of the file")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runImport(cmd *cobra.Command, _ []string) error {
	if err := app.LoadEnv(".env"); err != nil {
		return err
	}
	cfg, err := app.LoadConfig(importArgs.config)
	if err != nil {
		return err
	}
	// keep the terminal for the progress bar
	cfg.Log.Level = "warn"
	if err := app.SetupLogging(cfg.Log, os.Stderr); err != nil {
		return err
	}

	data, err := os.ReadFile(importArgs.data)
	if err != nil {
		return errors.Wrap(err, "failed to read data file")
	}
	var file ImportFile
	if err := json.Unmarshal(data, &file); err != nil {
		return errors.Wrap(err, "failed to parse JSON")
	}
	if importArgs.project != 0 {
		file.ProjectID = importArgs.project
	}
	if file.ProjectID == 0 {
		return errors.New("projectId is required")
	}

	store, closeDB, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	imp := newImporter(store, service.NewAssetService(store, cfg.Asset, nil), file.ProjectID, importArgs.operator)
	return imp.run(cmd.Context(), file.Modules)
}

type importer struct {
	assets    service.AssetService
	sequencer *steps.Sequencer
	projectID uint
	operator  uint
	bar       *progressbar.ProgressBar

	modules, skipped, cases, failed int
}

func newImporter(store *repository.Store, assets service.AssetService, projectID, operator uint) *importer {
	return &importer{
		assets:    assets,
		sequencer: steps.New(store, lock.NewLocker()),
		projectID: projectID,
		operator:  operator,
	}
}

func (imp *importer) run(ctx context.Context, modules []ModuleData) error {
	existing, err := imp.assets.GetModuleTree(ctx, imp.projectID)
	if err != nil {
		return err
	}

	imp.bar = progressbar.NewOptions(countCases(modules),
		progressbar.OptionSetDescription(color.CyanString("Importing test cases")),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)

	if err := imp.importLevel(ctx, nil, existing, modules); err != nil {
		return err
	}
	imp.bar.Finish()

	fmt.Println()
	color.Green("✓ Modules created: %d", imp.modules)
	if imp.skipped > 0 {
		color.Yellow("⏭  Modules already present: %d", imp.skipped)
	}
	color.Green("✓ Test cases created: %d", imp.cases)
	if imp.failed > 0 {
		color.Red("✗ Test cases failed: %d", imp.failed)
		return errors.Errorf("%d test cases failed to import", imp.failed)
	}
	return nil
}

// importLevel creates the modules of one tree level under parentID, reusing
// siblings that already exist with the same name.
func (imp *importer) importLevel(ctx context.Context, parentID *uint, existing []models.Module, modules []ModuleData) error {
	for _, data := range modules {
		module, children, err := imp.ensureModule(ctx, parentID, existing, data)
		if err != nil {
			return err
		}

		for _, tc := range data.Cases {
			imp.importCase(ctx, module, tc)
			imp.bar.Add(1)
		}

		if err := imp.importLevel(ctx, &module.ID, children, data.Children); err != nil {
			return err
		}
	}
	return nil
}

func (imp *importer) ensureModule(ctx context.Context, parentID *uint, existing []models.Module, data ModuleData) (*models.Module, []models.Module, error) {
	for i := range existing {
		if existing[i].Name == data.Name {
			imp.skipped++
			return &existing[i], existing[i].Children, nil
		}
	}

	module, err := imp.assets.CreateModule(ctx, &service.CreateModuleRequest{
		ProjectID:   imp.projectID,
		ParentID:    parentID,
		Name:        data.Name,
		Description: data.Description,
	}, imp.operator)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to create module %q", data.Name)
	}
	imp.modules++
	return module, nil, nil
}

func (imp *importer) importCase(ctx context.Context, module *models.Module, data TestCaseData) {
	tc, err := imp.assets.CreateTestCase(ctx, &service.CreateTestCaseRequest{
		ProjectID:     imp.projectID,
		ModuleID:      module.ID,
		Title:         data.Title,
		Type:          data.Type,
		Priority:      data.Priority,
		Automated:     data.Automated,
		Objective:     data.Objective,
		Preconditions: data.Preconditions,
		Tags:          data.Tags,
		Steps:         data.Steps,
	}, imp.operator)
	if err == nil {
		err = imp.sequencer.Verify(ctx, tc.ID)
	}
	if err != nil {
		imp.failed++
		imp.bar.Clear()
		color.Red("  ✗ %s / %s: %v", module.Name, data.Title, err)
		return
	}
	imp.cases++
	log.WithFields(log.Fields{"case_id": tc.CaseID, "steps": len(tc.Steps)}).Debug("imported test case")
}

func countCases(modules []ModuleData) int {
	n := 0
	for _, m := range modules {
		n += len(m.Cases) + countCases(m.Children)
	}
	return n
}
