package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/cors"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cellgraph/cellgraph/cellgraph"
	"github.com/cellgraph/cellgraph/graph"
	"github.com/cellgraph/cellgraph/schema"
	"github.com/cellgraph/cellgraph/storage"
)

const webHelp = `
HTTP API for the cellgraph server:

POST /api/group

	Defines a new edge group.  The JSON body:

	{
	    "name": "follows",
	    "kind": "directed",         // simple | directed | undirected | hyper
	    "body_tag": "",             // optional required type tag for edges
	    "dynamic": false,           // allow undeclared fields on edges
	    "fields": [
	        {"name": "since", "type": "timestamp"}
	    ]
	}

GET /api/group/<name>

	Returns the schema document of the named group.

POST /api/vertex

	Creates a vertex.  The JSON body holds the vertex properties:

	{"props": {"name": "alice"}}

GET /api/vertex/<id>

	Returns the vertex properties.  <id> is the hex cell id.

POST /api/edge

	Links two vertices under a group:

	{
	    "v1": "<hex id>",
	    "group": "follows",
	    "v2": "<hex id>",
	    "body": {"type": "", "props": {"since": "2021-03-14T09:26:53Z"}}
	}

GET /api/neighbours/<id>?dirs=inbound,outbound,neighbour&groups=follows

	Lists the vertex's related edges grouped per (direction, group).  Both
	query parameters are optional and default to everything present.

GET /api/server/info

	Returns server uptime and store statistics.
`

// groupSpecSchema validates POST /api/group bodies before any registry work.
const groupSpecSchema = `
{
    "type": "object",
    "required": ["name", "kind"],
    "additionalProperties": false,
    "properties": {
        "name": {"type": "string", "minLength": 1},
        "kind": {"enum": ["simple", "directed", "undirected", "hyper"]},
        "body_tag": {"type": "string"},
        "dynamic": {"type": "boolean"},
        "fields": {
            "type": "array",
            "items": {
                "type": "object",
                "required": ["name", "type"],
                "additionalProperties": false,
                "properties": {
                    "name": {"type": "string", "minLength": 1, "pattern": "^[^_]"},
                    "type": {"enum": ["string", "int", "float", "bool", "timestamp", "vertexref", "idlist"]}
                }
            }
        }
    }
}`

var compiledGroupSpecSchema = jsonschema.MustCompileString("groupspec.json", groupSpecSchema)

// handler builds the full HTTP handler: routes, CORS, panic logging.
func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/help", s.helpHandler)
	mux.HandleFunc("POST /api/group", s.postGroupHandler)
	mux.HandleFunc("GET /api/group/{name}", s.getGroupHandler)
	mux.HandleFunc("POST /api/vertex", s.postVertexHandler)
	mux.HandleFunc("GET /api/vertex/{id}", s.getVertexHandler)
	mux.HandleFunc("POST /api/edge", s.postEdgeHandler)
	mux.HandleFunc("GET /api/neighbours/{id}", s.neighboursHandler)
	mux.HandleFunc("GET /api/server/info", s.infoHandler)

	c := cors.New(cors.Options{
		AllowedOrigins: s.config.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST"},
	})
	return c.Handler(logHTTPPanics(mux))
}

// logHTTPPanics logs and recovers handler panics so one bad request can't
// bring the process down.
func logHTTPPanics(h http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				cellgraph.Criticalf("Panic handling %s %s: %v\n", r.Method, r.URL.Path, err)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		h.ServeHTTP(w, r)
	}
}

// statusFor maps the model's typed errors onto HTTP status codes.  A partial
// edge is a bad-gateway class failure: the request was valid but the store
// left the edge half-recorded.
func statusFor(err error) int {
	var (
		unknown   *schema.UnknownGroupError
		duplicate *schema.DuplicateGroupError
		mismatch  *graph.BodyTypeMismatchError
		badDir    *graph.BadDirectionError
		partial   *graph.PartialEdgeError
	)
	switch {
	// A partial edge wraps the underlying store error, so match it before
	// the plain not-found case.
	case errors.As(err, &partial):
		return http.StatusBadGateway
	case errors.As(err, &unknown), errors.Is(err, storage.ErrCellNotFound):
		return http.StatusNotFound
	case errors.As(err, &duplicate):
		return http.StatusConflict
	case errors.As(err, &mismatch), errors.As(err, &badDir),
		errors.Is(err, graph.ErrBodyRequired), errors.Is(err, graph.ErrBodyNotAllowed),
		errors.Is(err, schema.ErrSimpleEdgeFields):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func replyError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		cellgraph.Errorf("Request failed: %v\n", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]interface{}{"error": err.Error()}
	var partial *graph.PartialEdgeError
	if errors.As(err, &partial) {
		body["side"] = partial.Side
		body["half_recorded"] = partial.HalfRecorded()
	}
	json.NewEncoder(w).Encode(body)
}

func replyJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		cellgraph.Errorf("Error encoding response: %v\n", err)
	}
}

func (s *Server) helpHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, webHelp)
}

// --- Groups ---

type groupSpecJSON struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	BodyTag string `json:"body_tag"`
	Dynamic bool   `json:"dynamic"`
	Fields  []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"fields"`
}

func (s *Server) postGroupHandler(w http.ResponseWriter, r *http.Request) {
	var raw interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, fmt.Sprintf("bad JSON: %v", err), http.StatusBadRequest)
		return
	}
	if err := compiledGroupSpecSchema.Validate(raw); err != nil {
		http.Error(w, fmt.Sprintf("group spec failed validation: %v", err), http.StatusBadRequest)
		return
	}
	// Re-marshal the validated document into the typed spec.
	buf, _ := json.Marshal(raw)
	var gs groupSpecJSON
	if err := json.Unmarshal(buf, &gs); err != nil {
		http.Error(w, fmt.Sprintf("bad group spec: %v", err), http.StatusBadRequest)
		return
	}

	kind, err := schema.KindByName(gs.Kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	spec := schema.GroupSpec{
		Kind:    kind,
		BodyTag: gs.BodyTag,
		Dynamic: gs.Dynamic,
	}
	for _, f := range gs.Fields {
		ftype, err := cellgraph.FieldTypeByName(f.Type)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		spec.Fields = append(spec.Fields, cellgraph.Field{Name: f.Name, Type: ftype})
	}

	sid, err := s.graph.DefineEdgeGroup(r.Context(), gs.Name, spec)
	if err != nil {
		replyError(w, err)
		return
	}
	replyJSON(w, map[string]interface{}{"name": gs.Name, "schema_id": sid})
}

func (s *Server) getGroupHandler(w http.ResponseWriter, r *http.Request) {
	doc, err := s.graph.EdgeGroupSchema(r.PathValue("name"))
	if err != nil {
		replyError(w, err)
		return
	}
	fields := make([]map[string]string, 0, len(doc.BodyFields()))
	for _, f := range doc.BodyFields() {
		fields = append(fields, map[string]string{"name": f.Name, "type": f.Type.String()})
	}
	replyJSON(w, map[string]interface{}{
		"name":      doc.Name,
		"schema_id": doc.ID,
		"kind":      doc.Attrs.Kind.String(),
		"body_tag":  doc.Attrs.BodyTag,
		"dynamic":   doc.Dynamic,
		"fields":    fields,
	})
}

// --- Vertices ---

func (s *Server) postVertexHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Props map[string]interface{} `json:"props"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("bad JSON: %v", err), http.StatusBadRequest)
		return
	}
	for name := range req.Props {
		if strings.HasPrefix(name, "_") {
			http.Error(w, fmt.Sprintf("property %q uses a reserved name", name), http.StatusBadRequest)
			return
		}
	}
	v, err := s.graph.CreateVertex(r.Context(), cellgraph.DataMap(req.Props))
	if err != nil {
		replyError(w, err)
		return
	}
	replyJSON(w, map[string]interface{}{"id": v.ID.String(), "props": v.Props})
}

func (s *Server) getVertexHandler(w http.ResponseWriter, r *http.Request) {
	id, err := cellgraph.ParseId(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	v, err := s.graph.GetVertex(r.Context(), id)
	if err != nil {
		replyError(w, err)
		return
	}
	replyJSON(w, map[string]interface{}{"id": v.ID.String(), "props": v.Props})
}

// --- Edges ---

type edgeBodyJSON struct {
	Type  string                 `json:"type"`
	Props map[string]interface{} `json:"props"`
}

func (s *Server) postEdgeHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		V1    string        `json:"v1"`
		Group string        `json:"group"`
		V2    string        `json:"v2"`
		Body  *edgeBodyJSON `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("bad JSON: %v", err), http.StatusBadRequest)
		return
	}
	v1, err := cellgraph.ParseId(req.V1)
	if err != nil {
		http.Error(w, fmt.Sprintf("bad v1 id: %v", err), http.StatusBadRequest)
		return
	}
	v2, err := cellgraph.ParseId(req.V2)
	if err != nil {
		http.Error(w, fmt.Sprintf("bad v2 id: %v", err), http.StatusBadRequest)
		return
	}

	var body *graph.EdgeBody
	if req.Body != nil {
		doc, err := s.graph.EdgeGroupSchema(req.Group)
		if err != nil {
			replyError(w, err)
			return
		}
		props, err := coerceProps(doc, req.Body.Props)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		body = &graph.EdgeBody{Type: req.Body.Type, Props: props}
	}

	handle, err := s.graph.CreateEdge(r.Context(), v1, req.Group, v2, body)
	if err != nil {
		replyError(w, err)
		return
	}
	resp := map[string]interface{}{
		"group":     handle.Group,
		"schema_id": handle.SchemaID,
		"v1":        handle.V1.String(),
		"v2":        handle.V2.String(),
	}
	if handle.EdgeCell != nil {
		resp["edge_cell"] = handle.EdgeCell.String()
	}
	replyJSON(w, resp)
}

// coerceProps converts JSON-decoded body properties to the value types the
// group schema declares: timestamps from RFC 3339 strings, vertex refs from
// hex ids, ints from JSON numbers.
func coerceProps(doc *schema.GroupSchema, raw map[string]interface{}) (cellgraph.DataMap, error) {
	types := make(map[string]cellgraph.FieldType, len(doc.Fields))
	for _, f := range doc.BodyFields() {
		types[f.Name] = f.Type
	}
	props := make(cellgraph.DataMap, len(raw))
	for name, val := range raw {
		ftype, declared := types[name]
		if !declared {
			if !doc.Dynamic {
				return nil, fmt.Errorf("group %q has no field %q", doc.Name, name)
			}
			props[name] = val
			continue
		}
		switch ftype {
		case cellgraph.TypeTimestamp:
			s, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("field %q needs an RFC 3339 timestamp string", name)
			}
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, fmt.Errorf("bad timestamp for field %q: %v", name, err)
			}
			props[name] = t
		case cellgraph.TypeVertexRef:
			s, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("field %q needs a hex vertex id string", name)
			}
			id, err := cellgraph.ParseId(s)
			if err != nil {
				return nil, fmt.Errorf("bad vertex id for field %q: %v", name, err)
			}
			props[name] = id
		case cellgraph.TypeInt:
			n, ok := val.(float64)
			if !ok {
				return nil, fmt.Errorf("field %q needs a number", name)
			}
			props[name] = int64(n)
		default:
			props[name] = val
		}
	}
	return props, nil
}

// --- Neighbours ---

func (s *Server) neighboursHandler(w http.ResponseWriter, r *http.Request) {
	id, err := cellgraph.ParseId(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var opts []graph.NeighbourOption
	if dirs := r.URL.Query().Get("dirs"); dirs != "" {
		var selected []graph.Direction
		for _, name := range strings.Split(dirs, ",") {
			d, err := graph.DirectionByName(name)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			selected = append(selected, d)
		}
		opts = append(opts, graph.WithDirections(selected...))
	}
	if groups := r.URL.Query().Get("groups"); groups != "" {
		opts = append(opts, graph.WithGroups(strings.Split(groups, ",")...))
	}

	result, err := s.graph.Neighbours(r.Context(), id, opts...)
	if err != nil {
		replyError(w, err)
		return
	}
	// The wire view can't defer lookups, so resolve everything up front.
	if err := graph.ResolveAll(r.Context(), result); err != nil {
		replyError(w, err)
		return
	}
	replyJSON(w, neighboursJSON(r.Context(), result))
}

func neighboursJSON(ctx context.Context, groups []graph.NeighbourGroup) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(groups))
	for _, group := range groups {
		edges := make([]map[string]interface{}, 0, len(group.Edges))
		for _, edge := range group.Edges {
			e := map[string]interface{}{}
			if edge.Opposite != nil {
				e["opposite"] = resolvedRefJSON(ctx, edge.Opposite)
			}
			if edge.EdgeCell != nil {
				e["edge_cell"] = edge.EdgeCell.String()
			}
			fields := make(map[string]interface{}, len(edge.Fields))
			for name, fv := range edge.Fields {
				if fv.IsRef() {
					fields[name] = resolvedRefJSON(ctx, fv.Ref())
				} else {
					fields[name] = fv.Value()
				}
			}
			e["fields"] = fields
			edges = append(edges, e)
		}
		out = append(out, map[string]interface{}{
			"group":     group.Name,
			"kind":      group.Kind.String(),
			"schema_id": group.SchemaID,
			"direction": group.Direction.String(),
			"edges":     edges,
		})
	}
	return out
}

// resolvedRefJSON renders an already-resolved reference.  ResolveAll ran
// first, so the memoized resolve returns instantly.
func resolvedRefJSON(ctx context.Context, ref *graph.VertexRef) map[string]interface{} {
	out := map[string]interface{}{"id": ref.ID().String()}
	if v, err := ref.Resolve(ctx); err == nil && v != nil {
		out["props"] = v.Props
	}
	return out
}

// --- Server info ---

func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	replyJSON(w, map[string]interface{}{
		"uptime":            time.Since(s.startTime).String(),
		"store engine":      s.engine,
		"store size":        humanize.Bytes(s.store.Size()),
		"engines available": storage.EnginesAvailable(),
	})
}
