package mcpservice

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/yosida95/uritemplate/v3"

	"github.com/ggoodman/mcp-users/internal/logctx"
	"github.com/ggoodman/mcp-users/mcp"
	"github.com/ggoodman/mcp-users/sessions"
)

// ResourceRequest is what a resource handler receives: the URI exactly as
// the client sent it, and for template resources the extracted variables.
type ResourceRequest struct {
	URI  string
	Vars map[string]string
}

// Var returns the value of a template variable and whether it was present.
func (r *ResourceRequest) Var(name string) (string, bool) {
	v, ok := r.Vars[name]
	return v, ok
}

// ResourceHandler produces the contents of a resource read.
type ResourceHandler func(ctx context.Context, session sessions.Session, req *ResourceRequest) ([]mcp.ResourceContents, error)

// ResourceOption configures a resource declaration.
type ResourceOption func(*resourceConfig)

type resourceConfig struct {
	updates ChangeSubscriber
}

// WithResourceUpdates names the change source whose ticks are forwarded to
// clients subscribed to this resource (or to any URI of this template).
func WithResourceUpdates(sub ChangeSubscriber) ResourceOption {
	return func(c *resourceConfig) { c.updates = sub }
}

// StaticResource is a resource with one fixed URI.
type StaticResource struct {
	Descriptor mcp.Resource
	Handler    ResourceHandler
	updates    ChangeSubscriber
}

func (r StaticResource) CapabilityKind() Kind   { return KindResource }
func (r StaticResource) CapabilityName() string { return r.Descriptor.Name }

// NewStaticResource declares a fixed-URI resource.
func NewStaticResource(desc mcp.Resource, h ResourceHandler, opts ...ResourceOption) StaticResource {
	var cfg resourceConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return StaticResource{Descriptor: desc, Handler: h, updates: cfg.updates}
}

// TemplateResource is a family of resources addressed by an RFC 6570 URI
// template. Its instances are readable but never enumerated.
type TemplateResource struct {
	Descriptor mcp.ResourceTemplate
	Handler    ResourceHandler
	tmpl       *uritemplate.Template
	updates    ChangeSubscriber

	// segments matches simple {name} expressions against any single path
	// segment, including characters RFC 6570 would have percent-encoded.
	// Nil when the template uses operators or variable lists.
	segments     *regexp.Regexp
	segmentNames []string
}

func (r TemplateResource) CapabilityKind() Kind   { return KindResource }
func (r TemplateResource) CapabilityName() string { return r.Descriptor.Name }

// NewTemplateResource declares a templated resource. The descriptor's
// URITemplate must parse as an RFC 6570 template.
func NewTemplateResource(desc mcp.ResourceTemplate, h ResourceHandler, opts ...ResourceOption) (TemplateResource, error) {
	var cfg resourceConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	tmpl, err := uritemplate.New(desc.URITemplate)
	if err != nil {
		return TemplateResource{}, fmt.Errorf("resource template %q: %w", desc.URITemplate, err)
	}
	segments, names := compileSegmentPattern(desc.URITemplate)
	return TemplateResource{
		Descriptor:   desc,
		Handler:      h,
		tmpl:         tmpl,
		updates:      cfg.updates,
		segments:     segments,
		segmentNames: names,
	}, nil
}

// compileSegmentPattern turns a template made only of literals and simple
// {name} expressions into an anchored regexp with one group per variable.
func compileSegmentPattern(tmpl string) (*regexp.Regexp, []string) {
	var b strings.Builder
	var names []string
	b.WriteString("^")
	for rest := tmpl; rest != ""; {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(regexp.QuoteMeta(rest))
			break
		}
		b.WriteString(regexp.QuoteMeta(rest[:open]))
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, nil
		}
		name := rest[open+1 : open+end]
		if name == "" || strings.ContainsAny(name, "+#./;?&,*:=!@|") {
			return nil, nil
		}
		names = append(names, name)
		b.WriteString("([^/]+)")
		rest = rest[open+end+1:]
	}
	b.WriteString("$")
	if len(names) == 0 {
		return nil, nil
	}
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, nil
	}
	return re, names
}

// Match reports whether uri is an instance of the template and returns the
// extracted variables.
func (r TemplateResource) Match(uri string) (map[string]string, bool) {
	if r.tmpl == nil {
		return nil, false
	}
	values := r.tmpl.Match(uri)
	if values == nil {
		return r.matchSegments(uri)
	}
	vars := make(map[string]string, len(r.tmpl.Varnames()))
	for _, name := range r.tmpl.Varnames() {
		v := values.Get(name)
		if !v.Valid() {
			continue
		}
		vars[name] = v.String()
	}
	return vars, true
}

func (r TemplateResource) matchSegments(uri string) (map[string]string, bool) {
	if r.segments == nil {
		return nil, false
	}
	m := r.segments.FindStringSubmatch(uri)
	if m == nil {
		return nil, false
	}
	vars := make(map[string]string, len(r.segmentNames))
	for i, name := range r.segmentNames {
		vars[name] = m[i+1]
	}
	return vars, true
}

// ResourcesContainer is an immutable set of fixed resources and templates.
// It also tracks which sessions are subscribed to which URIs.
type ResourcesContainer struct {
	resources []StaticResource
	templates []TemplateResource
	byURI     map[string]int
	names     map[string]Declaration

	mu   sync.Mutex
	subs map[subscriptionKey]context.CancelFunc
}

type subscriptionKey struct {
	sessionID string
	uri       string
}

var (
	_ ResourcesCapability            = (*ResourcesContainer)(nil)
	_ ResourceSubscriptionCapability = (*ResourcesContainer)(nil)
)

// NewResourcesContainer builds a container. Fixed resources and templates
// share one name namespace; a repeated name fails with
// *DuplicateCapabilityError.
func NewResourcesContainer(resources []StaticResource, templates []TemplateResource) (*ResourcesContainer, error) {
	rc := &ResourcesContainer{
		byURI: make(map[string]int, len(resources)),
		names: make(map[string]Declaration, len(resources)+len(templates)),
		subs:  make(map[subscriptionKey]context.CancelFunc),
	}
	for _, r := range resources {
		if err := rc.claimName(r.Descriptor.Name, r); err != nil {
			return nil, err
		}
		if r.Handler == nil {
			return nil, fmt.Errorf("resource %q declared without a handler", r.Descriptor.Name)
		}
		if _, exists := rc.byURI[r.Descriptor.URI]; exists {
			return nil, fmt.Errorf("resource URI %q declared twice", r.Descriptor.URI)
		}
		rc.byURI[r.Descriptor.URI] = len(rc.resources)
		rc.resources = append(rc.resources, r)
	}
	for _, t := range templates {
		if err := rc.claimName(t.Descriptor.Name, t); err != nil {
			return nil, err
		}
		if t.Handler == nil || t.tmpl == nil {
			return nil, fmt.Errorf("resource template %q must be built with NewTemplateResource", t.Descriptor.Name)
		}
		rc.templates = append(rc.templates, t)
	}
	return rc, nil
}

func (rc *ResourcesContainer) claimName(name string, d Declaration) error {
	if name == "" {
		return fmt.Errorf("resource declared without a name")
	}
	if _, exists := rc.names[name]; exists {
		return &DuplicateCapabilityError{Kind: KindResource, Name: name}
	}
	rc.names[name] = d
	return nil
}

// Lookup returns the fixed resource or template registered under name.
func (rc *ResourcesContainer) Lookup(name string) (Declaration, error) {
	d, ok := rc.names[name]
	if !ok {
		return nil, &NotFoundError{Kind: KindResource, Name: name}
	}
	return d, nil
}

// resolve finds the declaration answering uri: fixed URIs first, then
// templates in declaration order.
func (rc *ResourcesContainer) resolve(uri string) (ResourceHandler, *ResourceRequest, ChangeSubscriber, bool) {
	if i, ok := rc.byURI[uri]; ok {
		r := rc.resources[i]
		return r.Handler, &ResourceRequest{URI: uri}, r.updates, true
	}
	for _, t := range rc.templates {
		if vars, ok := t.Match(uri); ok {
			return t.Handler, &ResourceRequest{URI: uri, Vars: vars}, t.updates, true
		}
	}
	return nil, nil, nil, false
}

func (rc *ResourcesContainer) ListResources(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Resource], error) {
	all := make([]mcp.Resource, len(rc.resources))
	for i, r := range rc.resources {
		all[i] = r.Descriptor
	}
	return pageSlice(all, defaultPageSize, cursor), nil
}

func (rc *ResourcesContainer) ListResourceTemplates(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.ResourceTemplate], error) {
	all := make([]mcp.ResourceTemplate, len(rc.templates))
	for i, t := range rc.templates {
		all[i] = t.Descriptor
	}
	return pageSlice(all, defaultPageSize, cursor), nil
}

func (rc *ResourcesContainer) ReadResource(ctx context.Context, session sessions.Session, uri string) ([]mcp.ResourceContents, error) {
	h, req, _, ok := rc.resolve(uri)
	if !ok {
		return nil, &NotFoundError{Kind: KindResource, Name: uri}
	}
	ctx = logctx.WithResourceData(ctx, &logctx.ResourceData{URI: uri})
	return h(ctx, session, req)
}

func (rc *ResourcesContainer) GetSubscriptionCapability(ctx context.Context, session sessions.Session) (ResourceSubscriptionCapability, bool, error) {
	return rc, true, nil
}

// Subscribe forwards change ticks for uri to emit until the returned cancel
// func runs. Subscribing twice to the same (session, uri) keeps a single
// forwarder. URIs whose declaration has no change source are accepted but
// never emit.
func (rc *ResourcesContainer) Subscribe(ctx context.Context, session sessions.Session, uri string, emit NotifyResourceUpdatedFunc) (CancelSubscription, error) {
	_, _, updates, ok := rc.resolve(uri)
	if !ok {
		return nil, &NotFoundError{Kind: KindResource, Name: uri}
	}
	key := subscriptionKey{sessionID: session.SessionID(), uri: uri}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	cancel := func(context.Context) error {
		rc.mu.Lock()
		stop, ok := rc.subs[key]
		delete(rc.subs, key)
		rc.mu.Unlock()
		if ok {
			stop()
		}
		return nil
	}
	if _, exists := rc.subs[key]; exists {
		return cancel, nil
	}

	fwdCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	rc.subs[key] = stop

	if updates != nil && emit != nil {
		ch := updates.Subscribe(fwdCtx)
		go func() {
			for {
				select {
				case <-fwdCtx.Done():
					return
				case _, ok := <-ch:
					if !ok {
						return
					}
					if fwdCtx.Err() != nil {
						return
					}
					slog.DebugContext(fwdCtx, "resource.updated", slog.String("uri", uri))
					emit(fwdCtx, uri)
				}
			}
		}()
	}
	return cancel, nil
}

// SubscriberCount reports how many (session, uri) subscriptions are live.
func (rc *ResourcesContainer) SubscriberCount() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.subs)
}
