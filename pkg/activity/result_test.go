package activity

import (
	"encoding/json"
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func TestResultCodes(t *testing.T) {
	rapid.Check(t, func(tr *rapid.T) {
		code := rapid.SampledFrom([]ResultCode{ResultOK, ResultCanceled, ResultFailed}).Draw(tr, "code")
		reason := rapid.String().Draw(tr, "reason")
		data, err := json.Marshal(reason)
		if err != nil {
			tr.Fatal(err)
		}

		result := NewResult(code, data, Source{Mode: ModeIframe})

		if result.OK() != (code == ResultOK) {
			tr.Fatalf("OK() = %v for code %v", result.OK(), code)
		}
		if (result.Data() != nil) != (code == ResultOK) {
			tr.Fatalf("Data() = %s for code %v", result.Data(), code)
		}
		if (result.Err() != nil) != (code == ResultFailed) {
			tr.Fatalf("Err() = %v for code %v", result.Err(), code)
		}
		if result.Data() != nil && result.Err() != nil {
			tr.Fatal("Data and Err are both populated")
		}
		if code == ResultFailed && result.Err().Error() != reason {
			tr.Fatalf("Err() = %q, expected %q", result.Err().Error(), reason)
		}
	})
}

func TestResultIsNotAliased(t *testing.T) {
	data := json.RawMessage(`"abc"`)
	result := NewResult(ResultOK, data, Source{})
	data[1] = 'x'

	var decoded string
	if err := result.DecodeData(&decoded); err != nil {
		t.Fatal(err)
	}
	if decoded != "abc" {
		t.Fatalf("Result data changed to %q", decoded)
	}
}

func TestFailedReasonFromNonString(t *testing.T) {
	result := NewResult(ResultFailed, json.RawMessage(`{"message":"x"}`), Source{})
	if result.Err().Error() != `{"message":"x"}` {
		t.Fatalf("Unexpected reason %q", result.Err().Error())
	}

	var failedErr *FailedError
	if !errors.As(result.Err(), &failedErr) {
		t.Fatal("Err is not a FailedError")
	}

	var decoded any
	var noData *NoDataError
	if err := result.DecodeData(&decoded); !errors.As(err, &noData) {
		t.Fatalf("DecodeData returned %v", err)
	}
}

func TestParsePayload(t *testing.T) {
	source := Source{Mode: ModeIframe, Origin: "https://host.example", OriginVerified: true, SecureChannel: true}

	result, err := ParsePayload(json.RawMessage(`{"code":"ok","data":"abc"}`), source)
	if err != nil {
		t.Fatal(err)
	}
	if !result.OK() || string(result.Data()) != `"abc"` || result.Origin() != "https://host.example" {
		t.Fatalf("Unexpected result %v", result)
	}

	result, err = ParsePayload(json.RawMessage(`{"code":"canceled","data":"ignored"}`), source)
	if err != nil {
		t.Fatal(err)
	}
	if result.OK() || result.Data() != nil || result.Err() != nil {
		t.Fatalf("Unexpected result %v", result)
	}

	var invalid *InvalidCodeError
	if _, err := ParsePayload(json.RawMessage(`{"code":"maybe"}`), source); !errors.As(err, &invalid) {
		t.Fatalf("Expected InvalidCodeError, got %v", err)
	}
	if _, err := ParsePayload(json.RawMessage(`[]`), source); err == nil {
		t.Fatal("Parsed array payload")
	}
}

func TestNewPayload(t *testing.T) {
	payload, err := NewPayload(ResultOK, map[string]int{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	if string(encoded) != `{"code":"ok","data":{"a":1}}` {
		t.Fatalf("Unexpected wire form %s", encoded)
	}

	payload, err = NewPayload(ResultCanceled, nil)
	if err != nil {
		t.Fatal(err)
	}
	encoded, err = json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	if string(encoded) != `{"code":"canceled","data":null}` {
		t.Fatalf("Unexpected wire form %s", encoded)
	}
}
