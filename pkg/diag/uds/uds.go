// Package uds implements the slice of ISO 14229 (UDS) needed by the
// multi-slot diagnostic engine: DiagnosticSessionControl, SecurityAccess
// and Read/WriteDataByIdentifier, each as a single blocking request over
// an ISO-TP transport.
package uds

import (
	"context"
	"errors"
	"fmt"
)

// Service identifiers (ISO 14229-1).
const (
	SIDDiagnosticSessionControl byte = 0x10
	SIDSecurityAccess           byte = 0x27
	SIDReadDataByIdentifier     byte = 0x22
	SIDWriteDataByIdentifier    byte = 0x2E

	sidNegativeResponse byte = 0x7F
	positiveOffset      byte = 0x40
)

// Session levels for DiagnosticSessionControl.
const (
	SessionDefault  byte = 0x01
	SessionExtended byte = 0x03
)

var ErrMalformedResponse = errors.New("uds: malformed response")

// NegativeResponseError carries the NRC byte from a UDS negative
// response (0x7F SID NRC), per spec §7 category 2.
type NegativeResponseError struct {
	SID byte
	NRC byte
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("uds: negative response for SID %#x, NRC %#x (%s)", e.SID, e.NRC, nrcName(e.NRC))
}

func nrcName(nrc byte) string {
	switch nrc {
	case 0x10:
		return "generalReject"
	case 0x11:
		return "serviceNotSupported"
	case 0x12:
		return "subFunctionNotSupported"
	case 0x13:
		return "incorrectMessageLengthOrInvalidFormat"
	case 0x22:
		return "conditionsNotCorrect"
	case 0x24:
		return "requestSequenceError"
	case 0x31:
		return "requestOutOfRange"
	case 0x33:
		return "securityAccessDenied"
	case 0x35:
		return "invalidKey"
	case 0x36:
		return "exceedNumberOfAttempts"
	case 0x78:
		return "requestCorrectlyReceived-ResponsePending"
	default:
		return "unknown"
	}
}

// Requester abstracts the ISO-TP stack: send payload, block for the
// reassembled response.
type Requester interface {
	Request(ctx context.Context, payload []byte) ([]byte, error)
}

// SecurityCallback derives a key from a server-issued seed (spec §6: an
// external, thread-safe seed→key function; the core never implements the
// algorithm itself).
type SecurityCallback func(seed []byte) ([]byte, error)

// Client is a UDS client bound to one ISO-TP Requester (one per slot).
type Client struct {
	req      Requester
	security SecurityCallback
}

func NewClient(req Requester, security SecurityCallback) *Client {
	return &Client{req: req, security: security}
}

// do sends a request and validates the response's SID against expected,
// translating a negative response into a NegativeResponseError.
func (c *Client) do(ctx context.Context, request []byte, expectedSID byte) ([]byte, error) {
	resp, err := c.req.Request(ctx, request)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, ErrMalformedResponse
	}
	if resp[0] == sidNegativeResponse {
		if len(resp) < 3 {
			return nil, ErrMalformedResponse
		}
		return nil, &NegativeResponseError{SID: resp[1], NRC: resp[2]}
	}
	if resp[0] != expectedSID+positiveOffset {
		return nil, fmt.Errorf("%w: expected SID %#x, got %#x", ErrMalformedResponse, expectedSID+positiveOffset, resp[0])
	}
	return resp[1:], nil
}

// DiagnosticSessionControl requests a session change (e.g. SessionExtended).
func (c *Client) DiagnosticSessionControl(ctx context.Context, session byte) error {
	_, err := c.do(ctx, []byte{SIDDiagnosticSessionControl, session}, SIDDiagnosticSessionControl)
	return err
}

// SecurityAccess performs the request-seed / send-key exchange for the
// given level.
func (c *Client) SecurityAccess(ctx context.Context, level byte) error {
	seedResp, err := c.do(ctx, []byte{SIDSecurityAccess, level}, SIDSecurityAccess)
	if err != nil {
		return err
	}
	if len(seedResp) < 1 {
		return ErrMalformedResponse
	}
	seed := seedResp[1:]
	key, err := c.security(seed)
	if err != nil {
		return fmt.Errorf("uds: security callback failed: %w", err)
	}
	request := append([]byte{SIDSecurityAccess, level + 1}, key...)
	_, err = c.do(ctx, request, SIDSecurityAccess)
	return err
}

// ReadDataByIdentifier reads one DID and returns its raw value bytes. It
// accepts either a bare {did_hi,did_lo,value...} response shape (the only
// one ISO 14229 defines) — the spec's note about "keyed values-map, a
// generic data-map, or a raw payload attribute" describes variance across
// UDS *library* response types, which this package sidesteps by parsing
// the wire format directly.
func (c *Client) ReadDataByIdentifier(ctx context.Context, did uint16) ([]byte, error) {
	resp, err := c.do(ctx, []byte{SIDReadDataByIdentifier, byte(did >> 8), byte(did)}, SIDReadDataByIdentifier)
	if err != nil {
		return nil, err
	}
	if len(resp) < 2 {
		return nil, ErrMalformedResponse
	}
	gotDID := uint16(resp[0])<<8 | uint16(resp[1])
	if gotDID != did {
		return nil, fmt.Errorf("%w: requested DID %#x, got %#x", ErrMalformedResponse, did, gotDID)
	}
	return resp[2:], nil
}

// WriteDataByIdentifier writes a DID's payload.
func (c *Client) WriteDataByIdentifier(ctx context.Context, did uint16, payload []byte) error {
	request := make([]byte, 0, 3+len(payload))
	request = append(request, SIDWriteDataByIdentifier, byte(did>>8), byte(did))
	request = append(request, payload...)
	_, err := c.do(ctx, request, SIDWriteDataByIdentifier)
	return err
}
