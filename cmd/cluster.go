package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/dwh/internal/cloud"
	"github.com/desertthunder/dwh/internal/formatter"
	"github.com/desertthunder/dwh/internal/models"
	"github.com/desertthunder/dwh/internal/repositories"
	"github.com/desertthunder/dwh/internal/shared"
	"github.com/desertthunder/dwh/internal/tasks"
	"github.com/urfave/cli/v3"
)

func (r *Runner) provisioner(ctx context.Context) (*cloud.Provisioner, error) {
	awsCfg, err := r.awsConfig(ctx, r.config.AWS)
	if err != nil {
		return nil, err
	}
	return cloud.NewProvisionerFromConfig(awsCfg, cloud.ProvisionerOpts{
		PollInterval: r.config.Cluster.PollInterval,
		WaitTimeout:  r.config.Cluster.WaitTimeout,
		Logger:       shared.WithLogger(r.logger, "cluster", r.config.Cluster.Identifier),
	}), nil
}

// ClusterCreate provisions the role, cluster and ingress rule, journals the endpoint, and saves it to the config.
func (r *Runner) ClusterCreate(ctx context.Context, cmd *cli.Command) error {
	if err := r.config.Validate("cluster"); err != nil {
		return err
	}
	p, err := r.provisioner(ctx)
	if err != nil {
		return err
	}

	params := cloud.ParamsFromConfig(r.config)
	var info cloud.ClusterInfo

	err = r.journaled(models.RunProvision, func(journal *repositories.Journal, runID string) error {
		result, err := r.track(ctx, "Provisioning "+params.Identifier, func(ctx context.Context, progress chan<- tasks.ProgressUpdate) (any, error) {
			return p.Provision(ctx, params, progress)
		})
		if err != nil {
			return err
		}
		info = result.(cloud.ClusterInfo)

		record := models.NewCluster(info.Identifier, info.Host, info.Port, info.RoleARN, info.SecurityGroup, info.Status)
		if err := journal.Clusters.Upsert(record); err != nil {
			r.logger.Warn("failed to journal cluster", "cluster", info.Identifier, "error", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("cluster available", "cluster", info.Identifier, "host", info.Host, "port", info.Port)
	if !cmd.Bool("no-save") {
		if err := r.saveCluster(info); err != nil {
			return err
		}
	}
	return r.render(formatter.Cluster(info, r.format))
}

// saveCluster writes the endpoint and role ARN into the config and, when a config path is set, to disk.
func (r *Runner) saveCluster(info cloud.ClusterInfo) error {
	if r.config == nil {
		return fmt.Errorf("%w: config is nil", shared.ErrInvalidConfig)
	}

	r.config.Cluster.Host = info.Host
	if info.Port != 0 {
		r.config.Cluster.Port = info.Port
	}
	if info.RoleARN != "" {
		r.config.IAMRole.ARN = info.RoleARN
	}

	if r.configPath == "" {
		return nil
	}
	if err := shared.SaveConfig(r.configPath, r.config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	r.logger.Info("saved endpoint to config", "path", r.configPath)
	return nil
}

// ClusterDescribe shows the live status of the configured cluster.
func (r *Runner) ClusterDescribe(ctx context.Context, cmd *cli.Command) error {
	identifier := r.config.Cluster.Identifier
	if identifier == "" {
		return fmt.Errorf("%w: cluster.identifier", shared.ErrMissingConfig)
	}
	p, err := r.provisioner(ctx)
	if err != nil {
		return err
	}

	info, err := p.Describe(ctx, identifier)
	if err != nil {
		return err
	}

	if journal, err := r.openJournal(); err == nil {
		record := models.NewCluster(info.Identifier, info.Host, info.Port, info.RoleARN, info.SecurityGroup, info.Status)
		if err := journal.Clusters.Upsert(record); err != nil {
			r.logger.Debug("failed to journal cluster", "cluster", identifier, "error", err)
		}
	}

	if cmd.Bool("console") {
		link := shared.ConsoleURL(r.config.AWS.Region, identifier)
		r.logger.Info("opening console", "url", link)
		if err := shared.OpenBrowser(link); err != nil {
			r.logger.Warn("could not open browser", "url", link, "error", err)
		}
	}
	return r.render(formatter.Cluster(info, r.format))
}

// ClusterDelete deletes the cluster without a final snapshot and removes its role.
func (r *Runner) ClusterDelete(ctx context.Context, cmd *cli.Command) error {
	identifier := r.config.Cluster.Identifier
	if identifier == "" {
		return fmt.Errorf("%w: cluster.identifier", shared.ErrMissingConfig)
	}
	if !cmd.Bool("yes") {
		return fmt.Errorf("%w: deleting %s drops all warehouse data; pass --yes to confirm", shared.ErrMissingArgument, identifier)
	}
	p, err := r.provisioner(ctx)
	if err != nil {
		return err
	}

	err = r.journaled(models.RunTeardown, func(journal *repositories.Journal, runID string) error {
		_, err := r.track(ctx, "Deleting "+identifier, func(ctx context.Context, progress chan<- tasks.ProgressUpdate) (any, error) {
			return nil, p.Teardown(ctx, identifier, r.config.IAMRole.Name, progress)
		})
		if err != nil {
			return err
		}
		if err := journal.Clusters.Delete(identifier); err != nil {
			r.logger.Debug("no journaled cluster to remove", "cluster", identifier, "error", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.config.IAMRole.ARN = ""
	if err := r.saveCluster(cloud.ClusterInfo{}); err != nil {
		return err
	}
	return r.writePlain("✓ Cluster %s and role %s deleted\n", identifier, r.config.IAMRole.Name)
}
