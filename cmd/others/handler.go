package others

import (
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/appslot/cmd/core"
	"github.com/projecteru2/appslot/gc"
	"github.com/projecteru2/appslot/utils"
	"github.com/projecteru2/appslot/version"
)

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) GC(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	if err := utils.EnsureDirs(conf.RootDir); err != nil {
		return err
	}

	o := gc.New()
	cmdcore.InitBackend(conf).RegisterGC(o)
	n, err := o.Run(ctx)
	if err != nil {
		return err
	}
	log.WithFunc("cmd.gc").Infof(ctx, "GC completed, %d slot(s) cleaned", n)
	return nil
}

func (h Handler) Version(_ *cobra.Command, _ []string) error {
	fmt.Print(version.String())
	return nil
}
