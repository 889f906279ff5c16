package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/baxromumarov/estate-hunter/internal/app"
	"github.com/baxromumarov/estate-hunter/internal/model"
)

func newImportJobsCmd() *cobra.Command {
	var (
		file        string
		ensureUsers bool
	)
	cmd := &cobra.Command{
		Use:   "import-jobs",
		Short: "Create or replace job definitions from a YAML or JSON file",
		Long: "Create or replace job definitions from a YAML or JSON file.\n\n" +
			"Every job's userId must name an existing user. Pass --ensure-users to create\n" +
			"missing owners as non-admin accounts first.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read jobs file: %w", err)
			}
			jobs, err := parseJobs(raw, filepath.Ext(file))
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if ensureUsers {
					for _, id := range jobOwners(jobs) {
						if err := a.Store.EnsureUser(ctx, id); err != nil {
							return err
						}
					}
				}
				for _, j := range jobs {
					if err := a.Store.UpsertJob(ctx, j); err != nil {
						return fmt.Errorf("upsert job %s: %w", j.ID, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d jobs\n", len(jobs))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "jobs file (.yaml, .yml or .json)")
	cmd.Flags().BoolVar(&ensureUsers, "ensure-users", false, "create missing job owners before importing")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// jobOwners lists the owner ids of jobs without duplicates, in file order.
func jobOwners(jobs []model.Job) []string {
	seen := map[string]bool{}
	var ids []string
	for _, j := range jobs {
		if j.UserID != "" && !seen[j.UserID] {
			seen[j.UserID] = true
			ids = append(ids, j.UserID)
		}
	}
	return ids
}

// parseJobs accepts either a list of jobs or a single job. YAML documents use
// the same keys as the JSON representation.
func parseJobs(raw []byte, ext string) ([]model.Job, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var doc interface{}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		converted, err := json.Marshal(jsonCompatible(doc))
		if err != nil {
			return nil, fmt.Errorf("convert yaml: %w", err)
		}
		raw = converted
	case ".json", "":
	default:
		return nil, fmt.Errorf("unsupported jobs file extension %q", ext)
	}

	var jobs []model.Job
	if trimmed := strings.TrimSpace(string(raw)); strings.HasPrefix(trimmed, "{") {
		var j model.Job
		if err := json.Unmarshal(raw, &j); err != nil {
			return nil, fmt.Errorf("parse job: %w", err)
		}
		jobs = append(jobs, j)
	} else if err := json.Unmarshal(raw, &jobs); err != nil {
		return nil, fmt.Errorf("parse jobs: %w", err)
	}

	for i, j := range jobs {
		if j.ID == "" || j.UserID == "" {
			return nil, fmt.Errorf("job %d: id and userId are required", i)
		}
	}
	return jobs, nil
}

// jsonCompatible rewrites yaml.v2 maps, which are keyed by interface{}, into
// string-keyed maps encoding/json can marshal.
func jsonCompatible(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = jsonCompatible(val)
		}
		return out
	case []interface{}:
		for i := range t {
			t[i] = jsonCompatible(t[i])
		}
		return t
	default:
		return v
	}
}
