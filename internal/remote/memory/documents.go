// Package memory provides in-memory document and issue services. They back
// dry runs and demos, and every engine test uses them; hooks let a test
// change remote state between two engine steps.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Mschirtzinger/tasksync/internal/core"
)

// Documents is an in-memory document service.
type Documents struct {
	mu       sync.Mutex
	docs     map[string]*core.Document
	parents  map[string]string
	nextID   int
	fetchErr map[string]error
	updates  int

	// BaseURL prefixes document URLs.
	BaseURL string

	// Author is recorded on versions written through UpdateDocument.
	Author string

	// Users maps user keys to user names for ResolveUser.
	Users map[string]string

	// BeforeUpdate runs before every UpdateDocument, outside the lock.
	BeforeUpdate func(upd core.DocumentUpdate)

	// Now stamps versions; defaults to time.Now.
	Now func() time.Time
}

var _ core.DocumentService = (*Documents)(nil)

// NewDocuments returns an empty document service.
func NewDocuments() *Documents {
	return &Documents{
		docs:     make(map[string]*core.Document),
		parents:  make(map[string]string),
		fetchErr: make(map[string]error),
		nextID:   1000,
		BaseURL:  "https://wiki.example.com",
		Author:   "tasksync",
		Users:    make(map[string]string),
	}
}

func (d *Documents) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Put stores a document below parentID (empty for a root) at version 1.
func (d *Documents) Put(id, parentID, title, content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.put(id, parentID, title, content)
}

func (d *Documents) put(id, parentID, title, content string) *core.Document {
	doc := &core.Document{
		ID:      id,
		Title:   title,
		URL:     d.BaseURL + "/pages/viewpage.action?pageId=" + id,
		Content: content,
		Version: core.DocumentVersionStamp{
			DocumentID: id,
			Number:     1,
			Author:     "author",
			Timestamp:  d.now().UTC().Format(time.RFC3339),
		},
	}
	d.docs[id] = doc
	if parentID != "" {
		d.parents[id] = parentID
		if p, ok := d.docs[parentID]; ok {
			p.Children = append(p.Children, id)
		}
	}
	return doc
}

// Edit simulates an external edit and returns the new version number.
func (d *Documents) Edit(id, content string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[id]
	if !ok {
		panic("memory: edit of unknown document " + id)
	}
	doc.Content = content
	doc.Version.Number++
	doc.Version.Author = "someone else"
	doc.Version.Timestamp = d.now().UTC().Format(time.RFC3339)
	return doc.Version.Number
}

// SetFetchError makes FetchDocument and FetchChildren fail for id until
// cleared with a nil error.
func (d *Documents) SetFetchError(id string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.fetchErr, id)
		return
	}
	d.fetchErr[id] = err
}

// Get returns a copy of a stored document.
func (d *Documents) Get(id string) (core.Document, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[id]
	if !ok {
		return core.Document{}, false
	}
	return d.snapshot(doc), true
}

// Len returns the number of stored documents.
func (d *Documents) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.docs)
}

// Updates returns how many successful updates were applied.
func (d *Documents) Updates() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updates
}

func (d *Documents) snapshot(doc *core.Document) core.Document {
	c := *doc
	c.Children = append([]string(nil), doc.Children...)
	var anc []string
	seen := map[string]bool{doc.ID: true}
	for p := d.parents[doc.ID]; p != "" && !seen[p]; p = d.parents[p] {
		seen[p] = true
		anc = append([]string{p}, anc...)
	}
	c.Ancestors = anc
	return c
}

func notFound(op, id string) error {
	return &core.RemoteError{Op: op, StatusCode: 404, Message: "no document " + id, Kind: core.ErrNotFound}
}

func (d *Documents) FetchDocument(ctx context.Context, id string) (*core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fetchErr[id]; err != nil {
		return nil, err
	}
	doc, ok := d.docs[id]
	if !ok {
		return nil, notFound("fetch", id)
	}
	c := d.snapshot(doc)
	return &c, nil
}

func (d *Documents) FetchChildren(ctx context.Context, id string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fetchErr[id]; err != nil {
		return nil, err
	}
	doc, ok := d.docs[id]
	if !ok {
		return nil, notFound("children", id)
	}
	return append([]string(nil), doc.Children...), nil
}

func (d *Documents) UpdateDocument(ctx context.Context, upd core.DocumentUpdate) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if d.BeforeUpdate != nil {
		d.BeforeUpdate(upd)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[upd.ID]
	if !ok {
		return 0, notFound("update", upd.ID)
	}
	if doc.Version.Number != upd.ExpectedVersion {
		return 0, &core.RemoteError{
			Op:         "update " + upd.ID,
			StatusCode: 409,
			Message:    fmt.Sprintf("expected version %d, current %d", upd.ExpectedVersion, doc.Version.Number),
			Kind:       core.ErrVersionConflict,
		}
	}
	doc.Content = upd.Content
	if upd.Title != "" {
		doc.Title = upd.Title
	}
	doc.Version.Number++
	doc.Version.Author = d.Author
	doc.Version.Timestamp = d.now().UTC().Format(time.RFC3339)
	d.updates++
	return doc.Version.Number, nil
}

func (d *Documents) CreateDocument(ctx context.Context, nd core.NewDocument) (*core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if nd.ParentID != "" {
		if _, ok := d.docs[nd.ParentID]; !ok {
			return nil, notFound("create", nd.ParentID)
		}
	}
	d.nextID++
	id := strconv.Itoa(d.nextID)
	for d.docs[id] != nil {
		d.nextID++
		id = strconv.Itoa(d.nextID)
	}
	doc := d.put(id, nd.ParentID, nd.Title, nd.Content)
	doc.Version.Author = d.Author
	c := d.snapshot(doc)
	return &c, nil
}

// ResolveUser maps a user key to a user name.
func (d *Documents) ResolveUser(ctx context.Context, key string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if name, ok := d.Users[key]; ok {
		return name, nil
	}
	return "", &core.RemoteError{Op: "user " + key, StatusCode: 404, Message: "unknown user", Kind: core.ErrNotFound}
}

func (d *Documents) Ping(ctx context.Context) error { return ctx.Err() }
