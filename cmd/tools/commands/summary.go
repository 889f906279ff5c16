package commands

import "github.com/baxromumarov/estate-hunter/internal/core"

type providerSummary struct {
	Provider string `json:"provider"`
	Fetched  int    `json:"fetched"`
	Rejected int    `json:"rejected"`
	Known    int    `json:"known"`
	Inserted int    `json:"inserted"`
	Error    string `json:"error,omitempty"`
}

type runSummary struct {
	JobID     string            `json:"jobId"`
	Seconds   float64           `json:"seconds"`
	Inserted  int               `json:"inserted"`
	Providers []providerSummary `json:"providers"`
}

func summarize(r *core.RunReport) runSummary {
	s := runSummary{JobID: r.JobID, Seconds: r.Duration.Seconds()}
	for _, p := range r.Providers {
		ps := providerSummary{
			Provider: p.ProviderID,
			Fetched:  p.Fetched,
			Rejected: p.Rejected,
			Known:    p.Known,
			Inserted: len(p.Inserted),
		}
		if p.Err != nil {
			ps.Error = p.Err.Error()
		}
		s.Inserted += ps.Inserted
		s.Providers = append(s.Providers, ps)
	}
	return s
}
