// Package protocol defines the JSON frames a validator and a miner exchange
// over a session, and how inbound frames are classified into a handshake
// outcome.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Message type discriminators carried in the "message_type" field.
const (
	TypeAuthenticate     = "AuthenticateRequest"
	TypeSubmitCredential = "SSHPubKeySubmitRequest"
	TypeRemoveCredential = "SSHPubKeyRemoveRequest"

	TypeAcceptCredential = "AcceptSSHKeyRequest"
	TypeDeclineJob       = "DeclineJobRequest"
	TypeFailed           = "FailedRequest"
	TypeUnauthorized     = "UnAuthorizedRequest"
	TypeGenericError     = "GenericError"
)

const typeField = "message_type"

var ErrInvalidMessage = errors.New("protocol: invalid message")

// Message is an outbound validator frame.
type Message interface {
	MessageType() string
}

// AuthenticatePayload is the signed part of the session-opening frame.
type AuthenticatePayload struct {
	ValidatorHotkey string `json:"validator_hotkey"`
	MinerHotkey     string `json:"miner_hotkey"`
	Timestamp       int64  `json:"timestamp"`
}

// Canonical returns the exact bytes that are signed. Keep the order and
// delimiter stable; miners rebuild the same string to verify.
func (p AuthenticatePayload) Canonical() []byte {
	return []byte("v1|" + p.ValidatorHotkey + "|" + p.MinerHotkey + "|" + strconv.FormatInt(p.Timestamp, 10))
}

// AuthenticateRequest proves the validator holds its hotkey.
type AuthenticateRequest struct {
	Payload   AuthenticatePayload `json:"payload"`
	Signature string              `json:"signature"`
}

func (AuthenticateRequest) MessageType() string { return TypeAuthenticate }

// SubmitCredentialRequest hands the miner an ephemeral public key to authorize.
type SubmitCredentialRequest struct {
	PublicKey string `json:"public_key"`
}

func (SubmitCredentialRequest) MessageType() string { return TypeSubmitCredential }

// RemoveCredentialRequest revokes a previously submitted public key.
type RemoveCredentialRequest struct {
	PublicKey string `json:"public_key"`
}

func (RemoveCredentialRequest) MessageType() string { return TypeRemoveCredential }

// AcceptedDetails is what a miner returns when it installs a credential:
// how to reach the host it authorized the key on.
type AcceptedDetails struct {
	SSHUsername string `json:"ssh_username"`
	SSHHost     string `json:"ssh_host,omitempty"`
	SSHPort     int    `json:"ssh_port,omitempty"`
	RootDir     string `json:"root_dir,omitempty"`
}

// Host returns the SSH host, falling back to the miner address.
func (d AcceptedDetails) Host(fallback string) string {
	if h := strings.TrimSpace(d.SSHHost); h != "" {
		return h
	}
	return fallback
}

// Port returns the SSH port, defaulting to 22.
func (d AcceptedDetails) Port() int {
	if d.SSHPort > 0 {
		return d.SSHPort
	}
	return 22
}

func (d AcceptedDetails) validate() error {
	if strings.TrimSpace(d.SSHUsername) == "" {
		return fmt.Errorf("%w: accept missing ssh_username", ErrInvalidMessage)
	}
	if d.SSHPort < 0 || d.SSHPort > 65535 {
		return fmt.Errorf("%w: accept ssh_port %d out of range", ErrInvalidMessage, d.SSHPort)
	}
	return nil
}

// DeclineJobRequest is a miner refusing the session.
type DeclineJobRequest struct {
	Reason string `json:"reason,omitempty"`
}

// FailedRequest is a miner reporting it could not install the credential.
type FailedRequest struct {
	Details string `json:"details,omitempty"`
}

// Encode renders msg as one JSON frame with its message_type set.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.MessageType(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: %s is not an object", ErrInvalidMessage, msg.MessageType())
	}
	typ, err := json.Marshal(msg.MessageType())
	if err != nil {
		return nil, err
	}
	fields[typeField] = typ
	return json.Marshal(fields)
}

// PeekType returns the message_type of a frame.
func PeekType(raw []byte) (string, error) {
	var head struct {
		MessageType string `json:"message_type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if strings.TrimSpace(head.MessageType) == "" {
		return "", fmt.Errorf("%w: missing message_type", ErrInvalidMessage)
	}
	return head.MessageType, nil
}
