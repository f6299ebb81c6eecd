package validate

import (
	"fmt"

	"github.com/rexliu/acrpc/pkg/rpc"
)

const (
	maxTextLength  = 128
	maxURLLength   = 2048
	maxTitleLength = 64
)

var (
	// AccountSchema whitelists the fields of one account record. Invalid
	// photo URLs are dropped instead of failing the account.
	AccountSchema = newAccountSchema()

	// AccountListSchema validates an array of accounts.
	AccountListSchema = Array{Elem: AccountSchema}

	// ProviderListSchema validates an array of provider ids.
	ProviderListSchema = Array{Elem: SanitizedText(maxTextLength, true)}
)

// SchemaFunc builds the params validator for a request from the verified
// requesting origin. A nil Validator means the message carries nothing to
// validate.
type SchemaFunc func(origin string) Validator

// schemas lists every message that may be validated. A message missing
// here is a programming error.
var schemas = map[string]SchemaFunc{
	rpc.MethodStore:       storeSchema,
	rpc.MethodSelect:      selectSchema,
	rpc.MethodUpdate:      updateSchema,
	rpc.MethodBootstrap:   bootstrapSchema,
	rpc.MethodQuery:       querySchema,
	rpc.MethodManage:      pageSchema,
	rpc.MethodAbout:       pageSchema,
	rpc.MethodClientReady: func(string) Validator { return nil },

	rpc.MethodGetIdpAccounts: func(string) Validator { return nil },
}

// Request validates the params of obj for a request from origin, rewriting
// them in place. It panics if obj has no registered schema.
func Request(obj rpc.Object, origin string) error {
	msg, ok := obj.(rpc.Message)
	if !ok {
		panic(fmt.Sprintf("validate: %T is not a request", obj))
	}
	build, ok := schemas[msg.Method()]
	if !ok {
		panic(fmt.Sprintf("validate: no schema for method %q", msg.Method()))
	}
	v := build(origin)
	if v == nil {
		return nil
	}
	params := msg.Params()
	if params == nil {
		return fail(ErrNotObject)
	}
	_, err := v.Validate(params)
	return err
}

// Registered reports whether method has a schema.
func Registered(method string) bool {
	_, ok := schemas[method]
	return ok
}

func newAccountSchema() *Object {
	photo := WithFallback(URL{MaxLength: maxURLLength, HTTPSOnly: true}, Discard)
	return NewObject(true).
		Required("email", SanitizedText(maxTextLength, true)).
		Optional("displayName", SanitizedText(maxTextLength, true)).
		Optional("photoUrl", photo).
		Optional("providerId", SanitizedText(maxTextLength, true))
}

func callbackConfig(origin string) *Object {
	cb := URLWithOrigin(maxURLLength, origin)
	return NewObject(false).
		Optional("clientCallbackUrl", cb).
		Optional("positiveCallbackUrl", cb).
		Optional("negativeCallbackUrl", cb).
		Optional("keepPopup", Boolean{}).
		Optional("language", Language{})
}

func selectConfig(origin string) *Object {
	cb := URLWithOrigin(maxURLLength, origin)
	ui := NewObject(false).
		Optional("title", Text{MaxLength: maxTitleLength, Truncate: true}).
		Optional("favicon", cb).
		Optional("branding", cb)
	return NewObject(false).
		Optional("clientCallbackUrl", cb).
		Optional("providers", ProviderListSchema).
		Optional("showAll", Boolean{}).
		Optional("ui", ui).
		Optional("keepPopup", Boolean{}).
		Optional("language", Language{})
}

func storeSchema(origin string) Validator {
	config := callbackConfig(origin).Optional("silent", Boolean{})
	return NewObject(false).
		Required("accounts", AccountListSchema).
		Required("clientConfig", config)
}

func selectSchema(origin string) Validator {
	return NewObject(false).
		Optional("localAccounts", AccountListSchema).
		Required("clientConfig", selectConfig(origin))
}

func updateSchema(origin string) Validator {
	return NewObject(false).
		Required("account", AccountSchema).
		Required("clientConfig", callbackConfig(origin))
}

func bootstrapSchema(origin string) Validator {
	return NewObject(false).
		Required("origin", URLWithOrigin(maxURLLength, origin)).
		Optional("accounts", AccountListSchema).
		Required("clientConfig", callbackConfig(origin))
}

func querySchema(string) Validator {
	return NewObject(false).
		Required("query", Enum{Values: rpc.Queries}).
		Optional("account", AccountSchema)
}

func pageSchema(origin string) Validator {
	return NewObject(false).
		Optional("clientConfig", selectConfig(origin))
}
