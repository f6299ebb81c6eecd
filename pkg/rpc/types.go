package rpc

// Version is the only accepted jsonrpc tag.
const Version = "2.0"

// BuildNumber stamps outgoing messages with the protocol build.
const BuildNumber int64 = 20140418

// Wire method names.
const (
	MethodStore          = "store"
	MethodSelect         = "select"
	MethodUpdate         = "update"
	MethodManage         = "manage"
	MethodAbout          = "about"
	MethodBootstrap      = "bootstrap"
	MethodQuery          = "query"
	MethodGetIdpAccounts = "getAccounts"

	MethodRequestAck    = "requestAckNotification"
	MethodServerReady   = "serverReadyNotification"
	MethodClientReady   = "clientReadyNotification"
	MethodEmptyResponse = "emptyResponseNotification"
)

// Kind identifies an Object variant. Request and notification kinds equal
// their wire method.
type Kind string

const (
	KindStore         Kind = MethodStore
	KindSelect        Kind = MethodSelect
	KindUpdate        Kind = MethodUpdate
	KindManage        Kind = MethodManage
	KindAbout         Kind = MethodAbout
	KindBootstrap     Kind = MethodBootstrap
	KindQuery         Kind = MethodQuery
	KindGetIdpAccount Kind = MethodGetIdpAccounts
	KindRequestAck    Kind = MethodRequestAck
	KindServerReady   Kind = MethodServerReady
	KindClientReady   Kind = MethodClientReady
	KindEmptyResponse Kind = MethodEmptyResponse
	KindResponse      Kind = "response"
)

// Query names accepted by QueryRequest.
const (
	QueryDisabled     = "acDisabled"
	QueryEmpty        = "acEmpty"
	QueryAccountExist = "accountExist"
	QueryShouldUpdate = "shouldUpdate"
)

// Queries lists every accepted query name.
var Queries = []string{QueryDisabled, QueryEmpty, QueryAccountExist, QueryShouldUpdate}

// Object is any RPC message. The set of implementations is closed.
type Object interface {
	Kind() Kind
	Metadata() *Meta
	wireFields() []field
}

// Message is a request or notification: anything carrying a method.
type Message interface {
	Object
	Method() string
	Params() Params
}

// ClientRequest is a Message with an id; only these receive a Response.
type ClientRequest interface {
	Message
	RequestID() string
}

// Meta holds metadata shared by all objects. Zero values are omitted on
// the wire.
type Meta struct {
	Timestamp int64
	RPCToken  string
	Build     int64
}

// Metadata returns the receiver so embedded types satisfy Object.
func (m *Meta) Metadata() *Meta { return m }

// SetToken attaches the shared secret.
func (m *Meta) SetToken(token string) { m.RPCToken = token }

// RemoveToken strips the shared secret before persisting.
func (m *Meta) RemoveToken() { m.RPCToken = "" }

func (m *Meta) metaFields() []field {
	fields := []field{{"jsonrpc", Version}}
	if m.Timestamp != 0 {
		fields = append(fields, field{"timestamp", m.Timestamp})
	}
	if m.RPCToken != "" {
		fields = append(fields, field{"rpcToken", m.RPCToken})
	}
	if m.Build != 0 {
		fields = append(fields, field{"build", m.Build})
	}
	return fields
}

type call struct {
	Meta
	ID     string
	params Params
}

func (c *call) RequestID() string { return c.ID }
func (c *call) Params() Params    { return c.params }

func (c *call) callFields(method string) []field {
	fields := c.metaFields()
	fields = append(fields, field{"id", c.ID}, field{"method", method})
	if c.params != nil {
		fields = append(fields, field{"params", c.params})
	}
	return fields
}

func newCall(id string, params Params) call {
	if params == nil {
		params = Params{}
	}
	return call{ID: id, params: params}
}

// StoreRequest asks the chooser to persist new accounts.
type StoreRequest struct{ call }

// NewStoreRequest builds a store request.
func NewStoreRequest(id string, accounts []any, clientConfig map[string]any) *StoreRequest {
	return &StoreRequest{newCall(id, Params{"accounts": accounts, "clientConfig": clientConfig})}
}

func (*StoreRequest) Kind() Kind             { return KindStore }
func (*StoreRequest) Method() string         { return MethodStore }
func (r *StoreRequest) wireFields() []field  { return r.callFields(MethodStore) }
func (r *StoreRequest) Accounts() []any      { return r.params.List("accounts") }
func (r *StoreRequest) ClientConfig() Params { return r.params.Map("clientConfig") }

// SelectRequest asks the user to pick an account.
type SelectRequest struct{ call }

// NewSelectRequest builds a select request. localAccounts may be nil.
func NewSelectRequest(id string, localAccounts []any, clientConfig map[string]any) *SelectRequest {
	params := Params{"clientConfig": clientConfig}
	if localAccounts != nil {
		params["localAccounts"] = localAccounts
	}
	return &SelectRequest{newCall(id, params)}
}

func (*SelectRequest) Kind() Kind             { return KindSelect }
func (*SelectRequest) Method() string         { return MethodSelect }
func (r *SelectRequest) wireFields() []field  { return r.callFields(MethodSelect) }
func (r *SelectRequest) LocalAccounts() []any { return r.params.List("localAccounts") }
func (r *SelectRequest) ClientConfig() Params { return r.params.Map("clientConfig") }

// UpdateRequest refreshes a stored account.
type UpdateRequest struct{ call }

// NewUpdateRequest builds an update request.
func NewUpdateRequest(id string, account map[string]any, clientConfig map[string]any) *UpdateRequest {
	return &UpdateRequest{newCall(id, Params{"account": account, "clientConfig": clientConfig})}
}

func (*UpdateRequest) Kind() Kind             { return KindUpdate }
func (*UpdateRequest) Method() string         { return MethodUpdate }
func (r *UpdateRequest) wireFields() []field  { return r.callFields(MethodUpdate) }
func (r *UpdateRequest) Account() Params      { return r.params.Map("account") }
func (r *UpdateRequest) ClientConfig() Params { return r.params.Map("clientConfig") }

// BootstrapRequest designates the caller as the bootstrap domain.
type BootstrapRequest struct{ call }

// NewBootstrapRequest builds a bootstrap request. accounts may be nil.
func NewBootstrapRequest(id, origin string, accounts []any, clientConfig map[string]any) *BootstrapRequest {
	params := Params{"origin": origin, "clientConfig": clientConfig}
	if accounts != nil {
		params["accounts"] = accounts
	}
	return &BootstrapRequest{newCall(id, params)}
}

func (*BootstrapRequest) Kind() Kind             { return KindBootstrap }
func (*BootstrapRequest) Method() string         { return MethodBootstrap }
func (r *BootstrapRequest) wireFields() []field  { return r.callFields(MethodBootstrap) }
func (r *BootstrapRequest) Origin() string       { return r.params.String("origin") }
func (r *BootstrapRequest) Accounts() []any      { return r.params.List("accounts") }
func (r *BootstrapRequest) ClientConfig() Params { return r.params.Map("clientConfig") }

// QueryRequest is a cheap boolean inquiry.
type QueryRequest struct{ call }

// NewQueryRequest builds a query. account may be nil.
func NewQueryRequest(id, query string, account map[string]any) *QueryRequest {
	params := Params{"query": query}
	if account != nil {
		params["account"] = account
	}
	return &QueryRequest{newCall(id, params)}
}

func (*QueryRequest) Kind() Kind            { return KindQuery }
func (*QueryRequest) Method() string        { return MethodQuery }
func (r *QueryRequest) wireFields() []field { return r.callFields(MethodQuery) }
func (r *QueryRequest) Query() string       { return r.params.String("query") }
func (r *QueryRequest) Account() Params     { return r.params.Map("account") }

// ManageRequest opens the account management page.
type ManageRequest struct{ call }

// NewManageRequest builds a manage request.
func NewManageRequest(id string, clientConfig map[string]any) *ManageRequest {
	return &ManageRequest{newCall(id, optionalConfig(clientConfig))}
}

func (*ManageRequest) Kind() Kind             { return KindManage }
func (*ManageRequest) Method() string         { return MethodManage }
func (r *ManageRequest) wireFields() []field  { return r.callFields(MethodManage) }
func (r *ManageRequest) ClientConfig() Params { return r.params.Map("clientConfig") }

// AboutRequest opens the about page.
type AboutRequest struct{ call }

// NewAboutRequest builds an about request.
func NewAboutRequest(id string, clientConfig map[string]any) *AboutRequest {
	return &AboutRequest{newCall(id, optionalConfig(clientConfig))}
}

func (*AboutRequest) Kind() Kind             { return KindAbout }
func (*AboutRequest) Method() string         { return MethodAbout }
func (r *AboutRequest) wireFields() []field  { return r.callFields(MethodAbout) }
func (r *AboutRequest) ClientConfig() Params { return r.params.Map("clientConfig") }

// GetIdpAccountsRequest asks an identity provider frame for its accounts.
type GetIdpAccountsRequest struct{ call }

// NewGetIdpAccountsRequest builds a provider accounts request.
func NewGetIdpAccountsRequest(id string) *GetIdpAccountsRequest {
	return &GetIdpAccountsRequest{call{ID: id}}
}

func (*GetIdpAccountsRequest) Kind() Kind            { return KindGetIdpAccount }
func (*GetIdpAccountsRequest) Method() string        { return MethodGetIdpAccounts }
func (r *GetIdpAccountsRequest) wireFields() []field { return r.callFields(MethodGetIdpAccounts) }

func optionalConfig(clientConfig map[string]any) Params {
	if clientConfig == nil {
		return Params{}
	}
	return Params{"clientConfig": clientConfig}
}

type notification struct {
	Meta
}

func (*notification) Params() Params { return nil }

func (n *notification) notificationFields(method string) []field {
	return append(n.metaFields(), field{"method", method})
}

// RequestAckNotification acknowledges a saved request.
type RequestAckNotification struct {
	Meta
	RequestID string
}

// NewRequestAckNotification acknowledges the request with the given id.
func NewRequestAckNotification(requestID string) *RequestAckNotification {
	return &RequestAckNotification{RequestID: requestID}
}

func (*RequestAckNotification) Kind() Kind       { return KindRequestAck }
func (*RequestAckNotification) Method() string   { return MethodRequestAck }
func (n *RequestAckNotification) Params() Params { return Params{"requestId": n.RequestID} }
func (n *RequestAckNotification) wireFields() []field {
	return append(n.metaFields(), field{"method", MethodRequestAck}, field{"params", n.Params()})
}

// ServerReadyNotification tells a popup client the server is listening.
type ServerReadyNotification struct{ notification }

func NewServerReadyNotification() *ServerReadyNotification { return &ServerReadyNotification{} }

func (*ServerReadyNotification) Kind() Kind     { return KindServerReady }
func (*ServerReadyNotification) Method() string { return MethodServerReady }
func (n *ServerReadyNotification) wireFields() []field {
	return n.notificationFields(MethodServerReady)
}

// ClientReadyNotification tells the relay frame the client page is loaded.
type ClientReadyNotification struct{ notification }

func NewClientReadyNotification() *ClientReadyNotification { return &ClientReadyNotification{} }

func (*ClientReadyNotification) Kind() Kind     { return KindClientReady }
func (*ClientReadyNotification) Method() string { return MethodClientReady }
func (n *ClientReadyNotification) wireFields() []field {
	return n.notificationFields(MethodClientReady)
}

// EmptyResponseNotification tells a client there is nothing pending.
type EmptyResponseNotification struct{ notification }

func NewEmptyResponseNotification() *EmptyResponseNotification {
	return &EmptyResponseNotification{}
}

func (*EmptyResponseNotification) Kind() Kind     { return KindEmptyResponse }
func (*EmptyResponseNotification) Method() string { return MethodEmptyResponse }
func (n *EmptyResponseNotification) wireFields() []field {
	return n.notificationFields(MethodEmptyResponse)
}

// Response answers a ClientRequest with exactly one of Result or Error.
type Response struct {
	Meta
	ID     string
	Result any
	Error  *Error
}

// NewResponse builds a response. It panics unless exactly one of result
// and rpcErr is set.
func NewResponse(id string, result any, rpcErr *Error) *Response {
	if id == "" {
		panic("rpc: response id required")
	}
	if result != nil && rpcErr != nil {
		panic("rpc: response result and error can not be both set")
	}
	if result == nil && rpcErr == nil {
		panic("rpc: response requires a result or an error")
	}
	return &Response{ID: id, Result: result, Error: rpcErr}
}

// NewDoneResponse builds a successful response.
func NewDoneResponse(id string, result any) *Response {
	return NewResponse(id, result, nil)
}

// NewErrorResponse builds a failed response.
func NewErrorResponse(id string, rpcErr *Error) *Response {
	return NewResponse(id, nil, rpcErr)
}

func (*Response) Kind() Kind { return KindResponse }

func (r *Response) wireFields() []field {
	fields := append(r.metaFields(), field{"id", r.ID})
	if r.Result != nil {
		return append(fields, field{"result", r.Result})
	}
	return append(fields, field{"error", r.Error})
}
