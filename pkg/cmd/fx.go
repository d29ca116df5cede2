package cmd

import (
	"github.com/groundskeeper/groundskeeper/pkg/backfill"
	"go.uber.org/fx"
)

var Module = fx.Module("cli",
	fx.Provide(
		backfill.NewPlugin,
		fx.Annotate(cancelCmd, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(checkCmd, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(doctorCmd, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(planCmd, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(resumeCmd, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(runCmd, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(statusCmd, fx.ResultTags(`group:"commands"`)),
	),
	fx.Invoke(Run),
)
