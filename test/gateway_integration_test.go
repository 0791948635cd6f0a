package test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/apifoundry/gateway/core/model"
)

// WidgetSuite exercises the gateway end to end against a real Postgres
// instance: create, read, update, delete and batch, driven entirely over
// HTTP the way a deployed client would use it (spec §4.3, §4.4, §4.6-4.8).
type WidgetSuite struct {
	GatewaySuite
}

func TestWidgetSuite(t *testing.T) {
	suite.Run(t, &WidgetSuite{})
}

func (s *WidgetSuite) ModelDocument() *model.Document {
	return &model.Document{
		Entities: map[string]model.EntityDocument{
			"widget": {
				Table:               "widgets",
				PrimaryKey:          "id",
				PrimaryKeyStrategy:  "uuid",
				ConcurrencyProperty: "version",
				ConcurrencyKind:     "uuid",
				SoftDeleteProperty:  "deleted_at",
				Properties: map[string]model.PropertyDocument{
					"id":         {Type: "string"},
					"name":       {Type: "string", Required: true},
					"quantity":   {Type: "integer"},
					"version":    {Type: "string"},
					"deleted_at": {Type: "date-time"},
				},
				Permissions: model.PermissionDocument{
					model.DefaultProvider: {
						"read":   {"admin": {Allow: boolPtrTest(true)}},
						"write":  {"admin": {Allow: boolPtrTest(true)}},
						"delete": {"admin": {Allow: boolPtrTest(true)}},
					},
				},
			},
		},
	}
}

func boolPtrTest(b bool) *bool { return &b }

func (s *WidgetSuite) Migrations() []string {
	return []string{`
		CREATE TABLE IF NOT EXISTS widgets (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			quantity INTEGER,
			version UUID,
			deleted_at TIMESTAMPTZ
		)`,
	}
}

func (s *WidgetSuite) request(method, path string, body interface{}) *http.Response {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.url(path), reader)
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+adminToken())
	resp, err := s.client().Do(req)
	s.Require().NoError(err)
	return resp
}

// do is for single-row responses (create/read-one/update), which the Service
// Pipeline shapes as a JSON object (spec §4.9, core/service.singleResultBody).
func (s *WidgetSuite) do(method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	resp := s.request(method, path, body)
	defer resp.Body.Close()
	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// doList is for list-shaped responses (a Read Handler's row list), which the
// Service Pipeline returns as a top-level JSON array.
func (s *WidgetSuite) doList(method, path string, body interface{}) (*http.Response, []map[string]interface{}) {
	resp := s.request(method, path, body)
	defer resp.Body.Close()
	var decoded []map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (s *WidgetSuite) TestCreateReadUpdateDelete() {
	resp, created := s.do(http.MethodPost, "/widget", map[string]interface{}{"name": "sprocket", "quantity": 3})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	id, ok := created["id"].(string)
	s.Require().True(ok, "expected an id in %+v", created)

	resp, read := s.do(http.MethodGet, "/widget/"+id, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().Equal("sprocket", read["name"])

	resp, updated := s.do(http.MethodPatch, "/widget/"+id, map[string]interface{}{"quantity": 9})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().EqualValues(9, updated["quantity"])

	resp, deleted := s.do(http.MethodDelete, "/widget/"+id, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().EqualValues(1, deleted["deleted"])

	resp, _ = s.do(http.MethodGet, "/widget/"+id, nil)
	s.Require().Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *WidgetSuite) TestBatchCreateIsAtomicOnFailure() {
	body := map[string]interface{}{
		"operations": []map[string]interface{}{
			{"id": "op_0", "entity": "widget", "action": "create", "store_params": map[string]interface{}{"name": "first"}},
			{"id": "op_1", "entity": "widget", "action": "create", "store_params": map[string]interface{}{}},
		},
	}
	resp, result := s.do(http.MethodPost, "/batch", body)
	s.Require().NotEqual(http.StatusOK, resp.StatusCode)
	s.Require().NotNil(result)

	resp, list := s.doList(http.MethodGet, "/widget?name=eq::first", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().Empty(list, "op_0's insert must have rolled back along with op_1's failure under the default atomic batch")
}

// adminToken returns an unsigned JWT carrying {"roles":["admin"]}, decodable
// by cmd/gateway/devauth without any signature check, matching how httpshim
// wires request authorization for local/test use.
func adminToken() string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"roles":["admin"]}`))
	return header + "." + payload + "."
}
