/*
tagprobe predicts which analytics events can fire on a set of web pages and
scores the prediction against the observed events.
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jakopako/tagprobe/internal/browser"
	"github.com/jakopako/tagprobe/internal/classify"
	"github.com/jakopako/tagprobe/internal/config"
	"github.com/jakopako/tagprobe/internal/feasibility"
	"github.com/jakopako/tagprobe/internal/groundtruth"
	"github.com/jakopako/tagprobe/internal/log"
	"github.com/jakopako/tagprobe/internal/output"
	"github.com/jakopako/tagprobe/internal/pipeline"
	"github.com/jakopako/tagprobe/internal/tagconfig"
	"github.com/jakopako/tagprobe/internal/types"
	"github.com/jakopako/tagprobe/internal/vision"
	"github.com/olekukonko/tablewriter"
)

var version = "dev"

type VersionFlag string

func (v VersionFlag) Decode(_ *kong.DecodeContext) error { return nil }
func (v VersionFlag) IsBool() bool                       { return true }
func (v VersionFlag) BeforeApply(app *kong.Kong, vars kong.Vars) error {
	fmt.Println(vars["version"])
	app.Exit(0)
	return nil
}

type cli struct {
	Version VersionFlag `short:"v" long:"version" help:"Print the version and exit."`
	Debug   bool        `short:"d" long:"debug" help:"Set log level to 'debug' and store screenshots in the browser debug directory."`

	Analyze  AnalyzeCmd  `cmd:"" help:"Predict the events of the configured units and score the prediction against the ground truth"`
	Classify ClassifyCmd `cmd:"" help:"Classify the page type of a single url"`
	Events   EventsCmd   `cmd:"" help:"List the events of a tag configuration"`
}

type AnalyzeCmd struct {
	Config     string `short:"c" default:"./config.yaml" help:"The location of the configuration file." type:"existingfile"`
	Tags       string `short:"t" help:"The tag configuration. Overrides analysis.tag_config."`
	Units      string `short:"u" help:"The units to analyse. Overrides analysis.units."`
	SkipVision bool   `short:"s" long:"skip-vision" help:"Skip the vision verification and keep all statically possible events."`
	Stdout     bool   `short:"o" help:"If set to true the report will be written to stdout despite any other existing writer configuration."`
}

func (a *AnalyzeCmd) Run() error {
	c, err := config.NewConfig(a.Config)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	if a.Tags != "" {
		c.Analysis.TagConfig = a.Tags
	}
	if a.Units != "" {
		c.Analysis.Units = a.Units
	}
	if a.SkipVision {
		c.Analysis.SkipVerification = true
	}
	if a.Stdout {
		c.Writer.Type = output.STDOUT_WRITER_TYPE
	}
	if c.Analysis.TagConfig == "" || c.Analysis.Units == "" {
		err := errors.New("a tag configuration and units are required")
		slog.Error(err.Error())
		return err
	}

	tags, err := tagconfig.LoadFile(c.Analysis.TagConfig)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	units, err := pipeline.LoadUnits(c.Analysis.Units)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	opts, err := c.Analysis.Options(time.Now())
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	writer, err := output.NewWriter(&c.Writer)
	if err != nil {
		slog.Error(err.Error())
		return err
	}
	classifier, err := classify.NewClassifier(c.Classifier)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}

	deps := pipeline.Deps{
		Classifier: classifier,
		Tags:       tags,
		Policy:     c.Analysis.ResolvedPolicy(),
	}
	if c.Analysis.GroundTruth != "" {
		if deps.Truth, err = groundtruth.LoadCountsFile(c.Analysis.GroundTruth); err != nil {
			slog.Error(fmt.Sprintf("%v", err))
			return err
		}
	}
	if !opts.SkipVerification {
		model, err := vision.NewOpenAIModel(c.Vision, slog.Default())
		if err != nil {
			slog.Error(fmt.Sprintf("%v", err))
			return err
		}
		deps.Batcher = vision.NewBatcher(model, c.Vision)
	}

	b, err := browser.NewBrowser(&c.Browser)
	if err != nil {
		slog.Error(fmt.Sprintf("error creating browser: %v", err))
		return err
	}
	deps.Pool = browser.NewPool(b, c.Browser.MaxContexts)
	orchestrator, err := pipeline.New(deps, opts)
	if err != nil {
		deps.Pool.Close()
		slog.Error(err.Error())
		return err
	}
	defer orchestrator.Close()

	slog.Info(fmt.Sprintf("analysing %d units with %d events", len(units), len(tags.Events())))
	report := orchestrator.Run(context.Background(), units)
	return writer.Write(report)
}

type ClassifyCmd struct {
	Config string `short:"c" default:"./config.yaml" help:"The location of the configuration file." type:"existingfile"`
	URL    string `short:"u" long:"url" help:"The url to classify." required:""`
}

func (cc *ClassifyCmd) Run() error {
	c, err := config.NewConfig(cc.Config)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	classifier, err := classify.NewClassifier(c.Classifier)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	b, err := browser.NewBrowser(&c.Browser)
	if err != nil {
		slog.Error(fmt.Sprintf("error creating browser: %v", err))
		return err
	}
	orchestrator, err := pipeline.New(pipeline.Deps{
		Pool:       browser.NewPool(b, 1),
		Classifier: classifier,
		Tags:       &tagconfig.StaticProvider{},
	}, pipeline.Options{NavigationTimeout: time.Duration(c.Analysis.NavigationTimeoutMS) * time.Millisecond})
	if err != nil {
		return err
	}
	defer orchestrator.Close()

	result, err := orchestrator.Classify(context.Background(), cc.URL)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

type EventsCmd struct {
	Config   string `short:"c" help:"The configuration file whose analysis policy is applied with -p." type:"existingfile"`
	Tags     string `short:"t" help:"The tag configuration. Defaults to analysis.tag_config of the configuration."`
	PageType string `short:"p" help:"Only list the events that can fire on this page type."`
}

func (e *EventsCmd) Run() error {
	policy := feasibility.DefaultPolicy()
	tagFile := e.Tags
	if e.Config != "" {
		c, err := config.NewConfig(e.Config)
		if err != nil {
			slog.Error(fmt.Sprintf("%v", err))
			return err
		}
		policy = c.Analysis.ResolvedPolicy()
		if tagFile == "" {
			tagFile = c.Analysis.TagConfig
		}
	}
	if tagFile == "" {
		err := errors.New("a tag configuration is required")
		slog.Error(err.Error())
		return err
	}
	tags, err := tagconfig.LoadFile(tagFile)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	events := tags.Events()
	if e.PageType != "" {
		pt, err := types.ParsePageType(e.PageType)
		if err != nil {
			slog.Error(err.Error())
			return err
		}
		ev := feasibilityFilter(tags, pt, policy)
		events = slices.DeleteFunc(events, func(d tagconfig.EventDefinition) bool { return !ev[d.Name] })
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header([]string{"Event", "Triggers", "Auto Fire", "Required UI"})
	for _, ev := range events {
		kinds := []string{}
		for _, t := range ev.Triggers {
			kinds = append(kinds, string(t.Kind))
		}
		if err := table.Append([]string{ev.Name, strings.Join(kinds, ", "), fmt.Sprintf("%t", ev.FiresAutomatically()), ev.RequiredUI}); err != nil {
			return err
		}
	}
	return table.Render()
}

func getVersion() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if ok {
		if buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
			return buildInfo.Main.Version
		}
	}
	return version
}

func main() {
	cli := cli{
		Version: VersionFlag(getVersion()),
	}

	ctx := kong.Parse(&cli,
		kong.Vars{
			"version": string(cli.Version),
		})

	log.Debug = cli.Debug
	log.InitializeDefaultLogger()

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
