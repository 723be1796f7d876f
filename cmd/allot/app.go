package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/yairfalse/allot/allocation"
	"github.com/yairfalse/allot/bundle"
	"github.com/yairfalse/allot/chargeback"
	"github.com/yairfalse/allot/export"
	"github.com/yairfalse/allot/internal/config"
	"github.com/yairfalse/allot/internal/emitter"
	"github.com/yairfalse/allot/internal/service"
	"github.com/yairfalse/allot/notify"
	"github.com/yairfalse/allot/policy"
	"github.com/yairfalse/allot/storage"
)

// app holds the wired components for one command invocation
type app struct {
	store      *storage.Store
	dispatcher *notify.Dispatcher
	emitter    *emitter.PrometheusEmitter
	svc        *service.Service
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	fallback := allocation.DefaultRules()
	if cfg.Allocation.DefaultRulesFile != "" {
		rules, err := bundle.LoadRules(cfg.Allocation.DefaultRulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load default rules: %w", err)
		}
		fallback = rules
	}

	var (
		awsCfg    aws.Config
		awsLoaded bool
	)
	loadAWS := func() (aws.Config, error) {
		if awsLoaded {
			return awsCfg, nil
		}
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.AWS.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.AWS.Region))
		}
		if cfg.AWS.Profile != "" {
			opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.AWS.Profile))
		}
		c, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
		}
		awsCfg, awsLoaded = c, true
		return c, nil
	}

	dispatchOpts := []notify.DispatcherOption{
		notify.WithTimeout(cfg.Notify.Timeout),
		notify.WithWebhook(notify.NewWebhookSender(nil)),
	}
	if cfg.Notify.SQSEnabled {
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		dispatchOpts = append(dispatchOpts, notify.WithQueue(notify.NewSQSSenderFromConfig(c)))
	}
	dispatcher := notify.NewDispatcher(dispatchOpts...)

	store, err := storage.NewStore(cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}

	evalOpts := []policy.Option{}
	if len(cfg.Policy.RequiredTags) > 0 {
		evalOpts = append(evalOpts, policy.WithRequiredTags(cfg.Policy.RequiredTags))
	}
	if cfg.Policy.MaxOffenders > 0 {
		evalOpts = append(evalOpts, policy.WithMaxOffenders(cfg.Policy.MaxOffenders))
	}

	reportEmitter, err := emitter.NewPrometheusEmitter()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create report emitter: %w", err)
	}
	svcOpts := []service.Option{service.WithEmitter(reportEmitter)}
	if cfg.Export.Bucket != "" {
		c, err := loadAWS()
		if err != nil {
			_ = reportEmitter.Close()
			_ = store.Close()
			return nil, err
		}
		svcOpts = append(svcOpts, service.WithExporter(
			export.NewS3ExporterFromConfig(c, cfg.Export.Bucket, export.WithPrefix(cfg.Export.Prefix))))
	}

	svc := service.New(store,
		allocation.NewEngine(fallback),
		policy.NewEvaluator(store, dispatcher, evalOpts...),
		chargeback.NewAggregator(),
		svcOpts...,
	)

	return &app{store: store, dispatcher: dispatcher, emitter: reportEmitter, svc: svc}, nil
}

// close waits for pending notifications and closes storage
func (a *app) close() error {
	a.dispatcher.Wait()
	_ = a.emitter.Close()
	return a.store.Close()
}

// withApp wires the app, runs fn and tears it down
func withApp(ctx context.Context, opts *rootOptions, fn func(*app) error) error {
	a, err := newApp(ctx, opts.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()
	return fn(a)
}
