package transport

import (
	"net/http"
	"time"

	"github.com/pitabwire/leanflow/internal/rules"
	"github.com/pitabwire/leanflow/model"
)

type ruleView struct {
	ID        string                  `json:"id"`
	Framework model.Framework         `json:"framework"`
	Severity  model.Severity          `json:"severity"`
	Cause     string                  `json:"cause,omitempty"`
	Basis     string                  `json:"basis,omitempty"`
	Potential model.PercentRange      `json:"potential"`
	Solution  *model.SolutionTemplate `json:"solution,omitempty"`
}

type rulesResponse struct {
	Version  string     `json:"version"`
	Checksum string     `json:"checksum"`
	LoadedAt time.Time  `json:"loaded_at"`
	Count    int        `json:"count"`
	Rules    []ruleView `json:"rules"`
}

// handleListRules lists the active registry, optionally filtered with
// ?framework=.
func handleListRules(holder *rules.Holder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reg := holder.Current()
		if reg == nil {
			WriteError(w, r, model.NewRegistryLoadError(nil))
			return
		}

		list := reg.All()
		if fw := model.Framework(r.URL.Query().Get("framework")); fw != "" {
			if !fw.Valid() {
				WriteError(w, r, model.NewBadRequestError("unknown framework "+string(fw)))
				return
			}
			list = reg.RulesFor(fw)
		}

		resp := rulesResponse{
			Version:  reg.Version(),
			Checksum: reg.Checksum(),
			LoadedAt: reg.LoadedAt(),
			Count:    len(list),
			Rules:    make([]ruleView, 0, len(list)),
		}
		for _, rule := range list {
			resp.Rules = append(resp.Rules, ruleView{
				ID:        rule.ID,
				Framework: rule.Framework,
				Severity:  rule.Severity,
				Cause:     rule.Cause,
				Basis:     rule.Basis,
				Potential: rule.Potential,
				Solution:  rule.Solution,
			})
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
