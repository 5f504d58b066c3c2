// Package api implements the GraphQL-shaped JSON-over-HTTP adapter (spec
// §6): a single POST /graphql endpoint dispatching on {operationType,
// topLevel, field}, a WebSocket /ws endpoint for the dispatch subscription
// (C9), and /health.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/rustyops/pkg/apierrors"
	"github.com/codeready-toolchain/rustyops/pkg/auth"
)

// operationType names whether a graphqlRequest is a query or a mutation —
// used both for dispatch and for the public-endpoint whitelist check.
type operationType string

const (
	opQuery    operationType = "query"
	opMutation operationType = "mutation"
)

// graphqlRequest is the wire shape of a POST /graphql body.
type graphqlRequest struct {
	OperationType operationType  `json:"operationType"`
	TopLevel      string         `json:"topLevel"`
	Field         string         `json:"field"`
	Args          map[string]any `json:"args"`
}

// graphqlResponse mirrors the conventional `{data, errors}` GraphQL envelope.
type graphqlResponse struct {
	Data   any         `json:"data,omitempty"`
	Errors []wireError `json:"errors,omitempty"`
}

// wireError is the shape a single apierrors.Error is rendered as.
type wireError struct {
	Kind       string                      `json:"kind"`
	Message    string                      `json:"message"`
	Validation *apierrors.ValidationDetail `json:"validation,omitempty"`
}

// requestContext carries the authenticated principal (empty for anonymous/
// public operations) through to handlers.
type requestContext struct {
	ctx      context.Context
	username string
	args     map[string]any
}

// handlerFunc implements one {topLevel, field} operation.
type handlerFunc func(rc *requestContext) (any, error)

// dispatchTable routes {topLevel, field} to the function that implements
// it. Populated by registerXxxHandlers in each handler_*.go file.
type dispatchTable map[string]map[string]handlerFunc

func (t dispatchTable) register(topLevel, field string, fn handlerFunc) {
	group, ok := t[topLevel]
	if !ok {
		group = make(map[string]handlerFunc)
		t[topLevel] = group
	}
	group[field] = fn
}

func (t dispatchTable) lookup(topLevel, field string) (handlerFunc, bool) {
	group, ok := t[topLevel]
	if !ok {
		return nil, false
	}
	fn, ok := group[field]
	return fn, ok
}

// handleGraphQL is the POST /graphql gin handler.
func (s *Server) handleGraphQL(c *gin.Context) {
	var req graphqlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierrors.Newf(apierrors.KindRequest, "malformed request body: %s", err.Error()))
		return
	}

	fn, ok := s.routes.lookup(req.TopLevel, req.Field)
	if !ok {
		writeError(c, apierrors.Newf(apierrors.KindRequest, "unknown operation %s.%s", req.TopLevel, req.Field))
		return
	}

	username := ""
	if !auth.IsPublic(string(req.OperationType), req.TopLevel, req.Field) {
		cred := auth.ParseAuthorizationHeader(c.GetHeader("Authorization"))
		u, err := s.auth.Authenticate(c.Request.Context(), cred)
		if err != nil {
			writeError(c, err)
			return
		}
		username = u
	}

	rc := &requestContext{ctx: c.Request.Context(), username: username, args: req.Args}
	data, err := fn(rc)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, graphqlResponse{Data: data})
}

// writeError renders err as a graphqlResponse, mapping apierrors.Kind to an
// HTTP status per spec §7's propagation policy: the status reflects the
// taxonomy, not a single blanket 4xx/5xx.
func writeError(c *gin.Context, err error) {
	apiErr, ok := err.(*apierrors.Error)
	if !ok {
		apiErr = apierrors.New(apierrors.KindStorage, err.Error())
	}
	c.JSON(statusFor(apiErr.Kind), graphqlResponse{
		Errors: []wireError{{Kind: string(apiErr.Kind), Message: apiErr.Message, Validation: apiErr.Validation}},
	})
}

func statusFor(kind apierrors.Kind) int {
	switch kind {
	case apierrors.KindCredentialMissing, apierrors.KindUnauthenticated, apierrors.KindJwtTokenExpired, apierrors.KindWrongCredentialType:
		return http.StatusUnauthorized
	case apierrors.KindUnauthorized:
		return http.StatusForbidden
	case apierrors.KindValidation, apierrors.KindRequest:
		return http.StatusBadRequest
	case apierrors.KindAsyncGraphql:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// argString/argOptString are small helpers handlers use to pull
// typed values out of the untyped Args map a JSON body decodes into.
func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", apierrors.Newf(apierrors.KindRequest, "missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", apierrors.Newf(apierrors.KindRequest, "argument %q must be a string", key)
	}
	return s, nil
}

func argOptString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// decodeArgs re-marshals the untyped args map into a typed struct, so
// multi-field inputs (e.g. creating a Project) don't need one argString
// call per field.
func decodeArgs(args map[string]any, out any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return apierrors.Newf(apierrors.KindRequest, "encode arguments: %s", err.Error())
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apierrors.Newf(apierrors.KindRequest, "decode arguments: %s", err.Error())
	}
	return nil
}
