package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/registrygate/pkg/access"
	"github.com/platinummonkey/registrygate/pkg/audit"
	"github.com/platinummonkey/registrygate/pkg/httputil"
	"github.com/platinummonkey/registrygate/pkg/protection"
	"github.com/platinummonkey/registrygate/pkg/storage"
)

type createRuleRequest struct {
	PackageNamePattern          string              `json:"package_name_pattern"`
	PackageType                 string              `json:"package_type"`
	MinimumAccessLevelForPush   access.AccessLevel  `json:"minimum_access_level_for_push"`
	MinimumAccessLevelForDelete *access.AccessLevel `json:"minimum_access_level_for_delete,omitempty"`
}

// ruleLevel reports whether a rule may demand level. Rules only ever raise
// the bar above developer.
func ruleLevel(level access.AccessLevel) bool {
	switch level {
	case access.LevelMaintainer, access.LevelOwner, access.LevelAdmin:
		return true
	}
	return false
}

func (req createRuleRequest) validate() error {
	if req.PackageNamePattern == "" {
		return errors.New("package_name_pattern is missing")
	}
	if err := protection.ValidatePattern(req.PackageNamePattern); err != nil {
		return err
	}
	if req.PackageType == "" {
		return errors.New("package_type is missing")
	}
	if !ruleLevel(req.MinimumAccessLevelForPush) {
		return fmt.Errorf("minimum_access_level_for_push must be maintainer, owner or admin")
	}
	if req.MinimumAccessLevelForDelete != nil && !ruleLevel(*req.MinimumAccessLevelForDelete) {
		return fmt.Errorf("minimum_access_level_for_delete must be maintainer, owner or admin")
	}
	return nil
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	rules, err := s.store.ListProtectionRules(r.Context(), id, r.URL.Query().Get("package_type"))
	if err != nil {
		s.log(r.Context()).WithError(err).Error("failed to list protection rules")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, rules)
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req createRuleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	rule := &access.ProtectionRule{
		ProjectID:                   id,
		PackageType:                 req.PackageType,
		NamePattern:                 req.PackageNamePattern,
		MinimumAccessLevelForPush:   req.MinimumAccessLevelForPush,
		MinimumAccessLevelForDelete: req.MinimumAccessLevelForDelete,
	}
	err := s.store.CreateProtectionRule(r.Context(), rule)
	if errors.Is(err, storage.ErrAlreadyExists) {
		httputil.WriteConflict(w, "409 Conflict - package name pattern is already protected")
		return
	}
	if err != nil {
		s.log(r.Context()).WithError(err).Error("failed to create protection rule")
		httputil.WriteInternalError(w)
		return
	}

	s.recordChange(r, audit.EventTypeProtectionRuleCreate, access.ProjectRef(id), access.ActionAdmin, "",
		fmt.Sprintf("protected %s packages matching %q (rule %d)", rule.PackageType, rule.NamePattern, rule.ID))
	httputil.WriteCreated(w, rule)
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	ruleID, ok := httputil.ParsePathInt64OrError(w, r, "rule_id")
	if !ok {
		return
	}

	err := s.store.DeleteProtectionRule(r.Context(), id, ruleID)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.WriteNotFound(w, "Package Protection Rule")
		return
	}
	if err != nil {
		s.log(r.Context()).WithError(err).Error("failed to delete protection rule")
		httputil.WriteInternalError(w)
		return
	}

	s.recordChange(r, audit.EventTypeProtectionRuleDelete, access.ProjectRef(id), access.ActionAdmin, "",
		fmt.Sprintf("removed protection rule %d", ruleID))
	httputil.WriteNoContent(w)
}
