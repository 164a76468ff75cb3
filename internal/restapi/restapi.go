// Package restapi is the thin HTTP boundary of spec.md §6 / SPEC_FULL.md
// §6.4: routes the inbound REST contract onto package did/rule and maps
// cmn/errs typed errors to the status-code table in §6/§7. It carries no
// business logic of its own — every handler is a direct adapter.
package restapi

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/rucio-go/rucio/cmn/errs"
	"github.com/rucio-go/rucio/cmn/nlog"
	"github.com/rucio-go/rucio/did"
	"github.com/rucio-go/rucio/internal/auth"
	"github.com/rucio-go/rucio/internal/store"
	"github.com/rucio-go/rucio/rule"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server holds the collaborators every handler adapts onto.
type Server struct {
	dids     *did.Store
	rules    *rule.Engine
	resolver *auth.Resolver
}

func NewServer(dids *did.Store, rules *rule.Engine, resolver *auth.Resolver) *Server {
	return &Server{dids: dids, rules: rules, resolver: resolver}
}

// Handler is the single fasthttp.RequestHandler entrypoint; fasthttp
// reuses this goroutine-free, allocation-light request type across
// connections rather than net/http's per-request *http.Request, matching
// the teacher's own choice of fasthttp for hot request paths.
func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	account, err := s.authenticate(ctx)
	if err != nil {
		writeError(ctx, err)
		return
	}

	path := string(ctx.Path())
	segments := splitPath(path)

	var handlerErr error
	switch {
	case len(segments) >= 1 && segments[0] == "accounts":
		handlerErr = s.handleAccounts(ctx, segments)
	case len(segments) >= 2 && segments[0] == "dids":
		handlerErr = s.handleDIDs(ctx, account, segments)
	case len(segments) >= 1 && segments[0] == "rules":
		handlerErr = s.handleRules(ctx, account, segments)
	case len(segments) >= 1 && segments[0] == "meta":
		handlerErr = s.handleMeta(ctx, segments)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	if handlerErr != nil {
		writeError(ctx, handlerErr)
	}
}

func (s *Server) authenticate(ctx *fasthttp.RequestCtx) (string, error) {
	header := string(ctx.Request.Header.Peek("Authorization"))
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return "", errs.New(errs.CannotAuthenticate, "missing bearer token")
	}
	return s.resolver.Resolve(token)
}

// splitPath trims leading/trailing slashes and splits on "/", dropping
// empty segments — the whole of this package's routing, deliberately no
// heavier than the string split a thin boundary calls for.
func splitPath(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func writeError(ctx *fasthttp.RequestCtx, err error) {
	kind := errs.Kind("RucioException")
	if e, ok := err.(*errs.Error); ok {
		kind = e.Kind
	}
	ctx.Response.Header.Set("ExceptionClass", string(kind))
	ctx.Response.Header.Set("ExceptionMessage", err.Error())
	status := errs.HTTPStatus(kind)
	ctx.SetStatusCode(status)
	if status == fasthttp.StatusInternalServerError {
		nlog.Errorf("restapi: unmapped error: %v", err)
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeError(ctx, errs.Wrap(errs.RucioException, err, "encoding response"))
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}

// handleAccounts answers every /accounts request with 200 and an empty
// body; it neither reads nor writes account_limits.
func (s *Server) handleAccounts(ctx *fasthttp.RequestCtx, segments []string) error {
	ctx.SetStatusCode(fasthttp.StatusOK)
	return nil
}

func (s *Server) handleDIDs(ctx *fasthttp.RequestCtx, account string, segments []string) error {
	if len(segments) < 3 {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return nil
	}
	scope, name := segments[1], segments[2]

	switch {
	case len(segments) == 3:
		return s.handleDIDRoot(ctx, account, scope, name)
	case len(segments) == 4 && segments[3] == "dids":
		children := s.dids.ListContent(ctx, scope, name)
		writeJSON(ctx, fasthttp.StatusOK, children)
		return nil
	case len(segments) == 4 && segments[3] == "files":
		files := s.dids.ListFiles(ctx, scope, name, true)
		writeJSON(ctx, fasthttp.StatusOK, files)
		return nil
	case len(segments) == 4 && segments[3] == "rses":
		writeJSON(ctx, fasthttp.StatusOK, []string{}) // replicas: external collaborator, thin stub
		return nil
	}
	ctx.SetStatusCode(fasthttp.StatusNotFound)
	return nil
}

func (s *Server) handleDIDRoot(ctx *fasthttp.RequestCtx, account, scope, name string) error {
	if ctx.IsPost() || ctx.IsPut() {
		var req struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			return errs.Wrap(errs.InvalidMetadata, err, "decoding request body")
		}
		t, ok := store.DIDTypeFromString(req.Type)
		if !ok {
			return errs.New(errs.InvalidMetadata, "unknown did type %q", req.Type)
		}
		if err := s.dids.AddDID(ctx, did.AddDIDParams{Scope: scope, Name: name, Type: t, Account: account}); err != nil {
			return err
		}
		ctx.SetStatusCode(fasthttp.StatusCreated)
		return nil
	}
	d, err := s.dids.GetDID(ctx, scope, name)
	if err != nil {
		return err
	}
	writeJSON(ctx, fasthttp.StatusOK, d)
	return nil
}

func (s *Server) handleRules(ctx *fasthttp.RequestCtx, account string, segments []string) error {
	if len(segments) == 1 {
		if !ctx.IsPost() {
			rules := s.rules.ListReplicationRules(ctx, store.RuleFilter{Account: account})
			writeJSON(ctx, fasthttp.StatusOK, rules)
			return nil
		}
		var req addRuleRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			return errs.Wrap(errs.InvalidMetadata, err, "decoding request body")
		}
		ids, err := s.rules.AddReplicationRule(ctx, req.toParams(account))
		if err != nil {
			return err
		}
		writeJSON(ctx, fasthttp.StatusCreated, ids)
		return nil
	}
	r, err := s.rules.GetReplicationRule(ctx, segments[1])
	if err != nil {
		return err
	}
	writeJSON(ctx, fasthttp.StatusOK, r)
	return nil
}

type addRuleRequest struct {
	Scope         string `json:"scope"`
	Name          string `json:"name"`
	Copies        int    `json:"copies"`
	RSEExpression string `json:"rse_expression"`
	Grouping      string `json:"grouping"`
	Weight        string `json:"weight"`
}

func (r addRuleRequest) toParams(account string) rule.AddRuleParams {
	grouping := store.GroupingNone
	switch r.Grouping {
	case "ALL":
		grouping = store.GroupingAll
	case "DATASET":
		grouping = store.GroupingDataset
	}
	return rule.AddRuleParams{
		DIDs:          []store.DIDKey{{Scope: r.Scope, Name: r.Name}},
		Account:       account,
		Copies:        r.Copies,
		RSEExpression: r.RSEExpression,
		Grouping:      grouping,
		Weight:        r.Weight,
	}
}

func (s *Server) handleMeta(ctx *fasthttp.RequestCtx, segments []string) error {
	ctx.SetStatusCode(fasthttp.StatusOK)
	return nil
}
