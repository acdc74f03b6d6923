package odoo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/pcsyncgo/internal/host"
)

func TestEncodeValuesReplacesMany2many(t *testing.T) {
	out := encodeValues(host.Values{
		"name":          "Ada",
		"category_id":   []int64{3, 4},
		"user_id":       nil,
		"customer_rank": 1,
	})

	assert.Equal(t, "Ada", out["name"])
	assert.Equal(t, false, out["user_id"])
	assert.Equal(t, 1, out["customer_rank"])
	assert.Equal(t, []interface{}{[]interface{}{6, 0, []interface{}{int64(3), int64(4)}}}, out["category_id"])
}

func TestEncodeDomain(t *testing.T) {
	out := encodeDomain(host.Domain{
		host.Eq("code", "DE"),
		host.ILike("name", "bavaria"),
		{Field: "id", Op: "in", Value: []int64{7}},
	})

	assert.Equal(t, []interface{}{
		[]interface{}{"code", "=", "DE"},
		[]interface{}{"name", "=ilike", "bavaria"},
		[]interface{}{"id", "in", []interface{}{int64(7)}},
	}, out)
}

func TestOriginContext(t *testing.T) {
	assert.Nil(t, originContext(context.Background()))

	oc := originContext(host.WithOrigin(context.Background(), host.OriginPull))
	assert.Equal(t, map[string]interface{}{PullContextKey: "pull"}, oc)
}

// fakeOdoo answers execute_kw calls for crm.lead: id 7 is archived, id 99 was deleted
type fakeOdoo struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeOdoo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	body := string(raw)
	f.mu.Lock()
	f.calls = append(f.calls, body)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "text/xml")
	switch {
	case strings.Contains(body, "<methodName>authenticate</methodName>"):
		writeXMLValue(w, "<int>2</int>")
	case strings.Contains(body, "<string>search</string>"):
		if strings.Contains(body, "active_test") {
			writeXMLValue(w, "<array><data><value><int>7</int></value></data></array>")
		} else {
			writeXMLValue(w, "<array><data></data></array>")
		}
	case strings.Contains(body, "<string>read</string>"):
		writeXMLValue(w, "<array><data><value><struct>"+
			"<member><name>id</name><value><int>7</int></value></member>"+
			"<member><name>name</name><value><string>Lost deal</string></value></member>"+
			"<member><name>active</name><value><boolean>0</boolean></value></member>"+
			"</struct></value></data></array>")
	case strings.Contains(body, "<string>write</string>"):
		if strings.Contains(body, "<int>99</int>") {
			fmt.Fprint(w, `<?xml version="1.0"?><methodResponse><fault><value><struct>`+
				`<member><name>faultCode</name><value><int>2</int></value></member>`+
				`<member><name>faultString</name><value><string>Record does not exist or has been deleted.</string></value></member>`+
				`</struct></value></fault></methodResponse>`)
			return
		}
		writeXMLValue(w, "<boolean>1</boolean>")
	case strings.Contains(body, "<string>create</string>"):
		writeXMLValue(w, "<int>42</int>")
	default:
		http.Error(w, "unexpected call", http.StatusBadRequest)
	}
}

func (f *fakeOdoo) last(method string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if strings.Contains(f.calls[i], "<string>"+method+"</string>") {
			return f.calls[i]
		}
	}
	return ""
}

func writeXMLValue(w io.Writer, value string) {
	fmt.Fprintf(w, `<?xml version="1.0"?><methodResponse><params><param><value>%s</value></param></params></methodResponse>`, value)
}

func newFakeOdooStore(t *testing.T) (*Store, *fakeOdoo) {
	t.Helper()
	fake := &fakeOdoo{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewStore(NewClient(srv.URL, "crm", "admin", "secret")), fake
}

func TestReadReturnsArchivedRecords(t *testing.T) {
	store, fake := newFakeOdooStore(t)

	rec, err := store.Read(context.Background(), host.ModelLead, 7, []string{"name", "active"})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Lost deal", rec.String("name"))
	assert.Equal(t, false, rec["active"])
	assert.Contains(t, fake.last("search"), "active_test")
}

func TestWriteOnDeletedRecordIsNotFound(t *testing.T) {
	store, _ := newFakeOdooStore(t)
	ctx := context.Background()

	err := store.Write(ctx, host.ModelLead, 99, host.Values{"name": "gone"})
	assert.ErrorIs(t, err, host.ErrNotFound)

	require.NoError(t, store.Write(ctx, host.ModelLead, 7, host.Values{"name": "kept"}))
}

func TestCreateCarriesPullOrigin(t *testing.T) {
	store, fake := newFakeOdooStore(t)

	id, err := store.Create(host.WithOrigin(context.Background(), host.OriginPull), host.ModelPartner, host.Values{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Contains(t, fake.last("create"), PullContextKey)

	_, err = store.Create(context.Background(), host.ModelPartner, host.Values{"name": "Grace"})
	require.NoError(t, err)
	assert.NotContains(t, fake.last("create"), PullContextKey)
}

func TestIsMissingRecord(t *testing.T) {
	assert.False(t, IsMissingRecord(nil))
	assert.True(t, IsMissingRecord(errors.New("Fault(2): Record does not exist or has been deleted.")))
	assert.True(t, IsMissingRecord(errors.New("odoo.exceptions.MissingError: gone")))
	assert.False(t, IsMissingRecord(errors.New("Fault(3): Access denied")))
}
