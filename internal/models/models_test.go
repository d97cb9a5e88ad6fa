package models

import (
	"encoding/json"
	"testing"
)

func TestStepJSONRoundTrip(t *testing.T) {
	cases := []struct {
		step Step
		want string
	}{
		{InProgress(0), `0`},
		{InProgress(7), `7`},
		{Confirming(), `"confirmation"`},
	}
	for _, tc := range cases {
		data, err := json.Marshal(tc.step)
		if err != nil {
			t.Fatalf("marshal %v: %v", tc.step, err)
		}
		if string(data) != tc.want {
			t.Errorf("marshal %v = %s, want %s", tc.step, data, tc.want)
		}
		var got Step
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if got != tc.step {
			t.Errorf("round trip %v = %v", tc.step, got)
		}
	}
}

func TestStepUnmarshalRejectsGarbage(t *testing.T) {
	for _, raw := range []string{`-1`, `"done"`, `true`} {
		var s Step
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			t.Errorf("expected error for %s", raw)
		}
	}
}

func TestFlowStateNested(t *testing.T) {
	st := NewFlowState("+1555", FlowTypeIndividualRegistration)
	st.Data["first_name"] = "Ada"
	st.Data["city"] = "London"
	st.Data["postal_code"] = "N1 9GU"

	nested := st.Nested(map[string]string{"city": "address", "postal_code": "address"})
	if nested["first_name"] != "Ada" {
		t.Errorf("first_name = %v", nested["first_name"])
	}
	addr, ok := nested["address"].(map[string]any)
	if !ok {
		t.Fatalf("address sub-map missing: %#v", nested)
	}
	if addr["city"] != "London" || addr["postal_code"] != "N1 9GU" {
		t.Errorf("address = %#v", addr)
	}
	if _, ok := nested["city"]; ok {
		t.Error("grouped field should not remain at top level")
	}
}

func TestMessageValidate(t *testing.T) {
	m := Message{From: "+1"}
	if err := m.Validate(); err != ErrEmptyMessageID {
		t.Errorf("got %v, want ErrEmptyMessageID", err)
	}
	m = Message{ID: "wamid.1"}
	if err := m.Validate(); err != ErrEmptySender {
		t.Errorf("got %v, want ErrEmptySender", err)
	}
	m = Message{ID: "wamid.1", From: "+1", Body: "  hi \n"}
	if err := m.Validate(); err != nil {
		t.Errorf("unexpected error %v", err)
	}
	if m.Text() != "hi" {
		t.Errorf("Text() = %q", m.Text())
	}
}

func TestIntentFlowMapping(t *testing.T) {
	if IntentCollectMoney.FlowType() != FlowTypeCollectMoney {
		t.Error("collect money should map to the collect money flow")
	}
	if IntentSendMoney.FlowType() != FlowTypeFiatToCrypto {
		t.Error("send money should map to the fiat-to-crypto flow")
	}
	if !IntentSendMoney.IsMoney() || IntentExchangeRate.IsMoney() {
		t.Error("IsMoney mismatch")
	}
	if UserTypeBusiness.RegistrationFlow() != FlowTypeBusinessRegistration {
		t.Error("business registration mapping")
	}
}
