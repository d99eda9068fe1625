package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/gosuri/uitable"
)

func listModels(ctx context.Context, cfgPath string, stdout, logOut io.Writer) error {
	cfg, err := loadConfig(cfgPath, logOut)
	if err != nil {
		return err
	}
	rt, err := newRouter(ctx, &cfg)
	if err != nil {
		return err
	}

	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("PROVIDER", "MODEL", "NAME", "CONTEXT")
	for _, catalog := range rt.ListAllCatalogs(ctx) {
		for _, m := range catalog.Models {
			table.AddRow(catalog.ProviderID, m.ID, m.Name, m.ContextLength)
		}
	}
	_, err = fmt.Fprintln(stdout, table)
	return err
}

func route(ctx context.Context, cfgPath, model string, stdout, logOut io.Writer) error {
	cfg, err := loadConfig(cfgPath, logOut)
	if err != nil {
		return err
	}
	rt, err := newRouter(ctx, &cfg)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(stdout, rt.ResolveID(model))
	return err
}
