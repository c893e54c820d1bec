package kerrors_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/hahalml/kasocki/kerrors"
)

func TestMarshalJSON_WireShape(t *testing.T) {
	err := kerrors.New(kerrors.TopicNotAvailable).
		WithMessage("topic \"foo\" is not in availableTopics").
		WithSocket("sock-1").
		WithContext("availableTopics", []string{"a", "b"}).
		Build()

	data, marshalErr := json.Marshal(err)
	if marshalErr != nil {
		t.Fatalf("marshal: %v", marshalErr)
	}

	var out map[string]any
	if unmarshalErr := json.Unmarshal(data, &out); unmarshalErr != nil {
		t.Fatalf("unmarshal: %v", unmarshalErr)
	}

	if out["name"] != "TopicNotAvailable" {
		t.Errorf("name = %v, want TopicNotAvailable", out["name"])
	}
	if out["socket"] != "sock-1" {
		t.Errorf("socket = %v, want sock-1", out["socket"])
	}
	if _, ok := out["availableTopics"]; !ok {
		t.Error("expected availableTopics context field in wire shape")
	}
	if _, ok := out["message"]; !ok {
		t.Error("expected message field in wire shape")
	}
}

func TestIs_MatchesByKind(t *testing.T) {
	err1 := kerrors.NewNotSubscribed()
	err2 := kerrors.NewNotSubscribed()

	if !errors.Is(err1, err2) {
		t.Error("expected two NotSubscribed errors to match via errors.Is")
	}

	other := kerrors.NewAlreadyStarted()
	if errors.Is(err1, other) {
		t.Error("expected NotSubscribed and AlreadyStarted to not match")
	}
}

func TestKindOf_UnwrapsWrapped(t *testing.T) {
	base := kerrors.NewInvalidFilter("bad regex")
	wrapped := kerrors.Wrap(base, "while compiling filter").Build()

	kind, ok := kerrors.KindOf(wrapped)
	if !ok {
		t.Fatal("expected KindOf to find the wrapped kerrors.Error")
	}
	if kind != kerrors.Kasocki {
		t.Errorf("KindOf(wrapped) = %s, want Kasocki (outermost wrap)", kind)
	}

	kind, ok = kerrors.KindOf(base)
	if !ok || kind != kerrors.InvalidFilter {
		t.Errorf("KindOf(base) = %s,%v want InvalidFilter,true", kind, ok)
	}
}

func TestDeserializationError_CarriesCause(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := kerrors.NewDeserialization(cause, "orders", 2, 42)

	if err.Kind != kerrors.Deserialization {
		t.Errorf("Kind = %s, want Deserialization", err.Kind)
	}
	if err.Context["originalError"] != cause.Error() {
		t.Errorf("originalError context = %v, want %v", err.Context["originalError"], cause.Error())
	}
}
