package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lukaszraczylo/sessionbridge/internal/guard"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Inspect the route table",
}

var routesVerifyCmd = &cobra.Command{
	Use:   "verify [path...]",
	Short: "Fail when any known route has no classification",
	Long: `Check routes.known from the configuration, plus any paths given as
arguments, against the route table. Unclassified routes are printed and the
command exits non-zero.`,
	RunE: runRoutesVerify,
}

var routesClassifyCmd = &cobra.Command{
	Use:   "classify <path>...",
	Short: "Print the classification of each path",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRoutesClassify,
}

func init() {
	routesCmd.AddCommand(routesVerifyCmd)
	routesCmd.AddCommand(routesClassifyCmd)
	rootCmd.AddCommand(routesCmd)
}

func loadPolicy() (*guard.RoutePolicy, []string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	policy, err := guard.NewRoutePolicy(cfg.Routes.PolicyConfig)
	if err != nil {
		return nil, nil, err
	}
	return policy, cfg.Routes.Known, nil
}

func runRoutesVerify(cmd *cobra.Command, args []string) error {
	policy, known, err := loadPolicy()
	if err != nil {
		return err
	}

	routes := append(append([]string{}, known...), args...)
	unclassified := policy.Verify(routes)
	out := cmd.OutOrStdout()
	if len(unclassified) == 0 {
		fmt.Fprintf(out, "All %d routes are classified\n", len(routes))
		return nil
	}

	for _, route := range unclassified {
		fmt.Fprintf(out, "unclassified: %s\n", route)
	}
	return fmt.Errorf("%d of %d routes have no classification", len(unclassified), len(routes))
}

func runRoutesClassify(cmd *cobra.Command, args []string) error {
	policy, _, err := loadPolicy()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, path := range args {
		c := policy.Classify(path)
		switch c.Class {
		case guard.ClassProtected:
			fmt.Fprintf(out, "%s\tprotected\trole=%s\trule=%s\n", path, c.Role, c.Rule)
		case guard.ClassPublic:
			fmt.Fprintf(out, "%s\tpublic\trule=%s\n", path, c.Rule)
		default:
			fmt.Fprintf(out, "%s\tunclassified\n", path)
		}
	}
	return nil
}
