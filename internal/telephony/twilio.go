// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package telephony adapts the carrier-specific wire encodings spec.md §1
// scopes out of the orchestrator proper (PSTN/SIP trunking, Twilio/Vonage
// media-stream envelopes) to plain credentials in, vendor client out.
// Everything downstream of the client — placing/answering a call, opening
// its media stream — talks to internal/transport the same way regardless of
// carrier. twilio.go and vonage.go translate one carrier's credential shape
// into its SDK's client; sip.go answers SIP trunk signaling (INVITE/BYE) and
// leaves the media path to its caller. Grounded on the teacher's
// internal/telephony/twilio/twilio.go and internal/telephony/vonage/vonage.go,
// generalized off their internal *protos.VaultCredential lookup onto a
// plain Credentials map this module doesn't depend on a vault type for.
package telephony

import (
	"fmt"

	"github.com/twilio/twilio-go"

	"github.com/rapidaai/voiceorc/internal/commons"
)

// Credentials is the flattened view of whatever secret store hands this
// package its per-account carrier credentials (spec.md §1 persistence is
// out of scope; this is the seam).
type Credentials map[string]string

// TwilioProvider builds an authenticated Twilio REST client from vault-style
// credentials.
type TwilioProvider struct {
	logger commons.Logger
}

// NewTwilioProvider constructs a TwilioProvider.
func NewTwilioProvider(logger commons.Logger) *TwilioProvider {
	return &TwilioProvider{logger: logger}
}

// Client builds a *twilio.RestClient authenticated from creds, which must
// carry "account_sid" and "account_token".
func (p *TwilioProvider) Client(creds Credentials) (*twilio.RestClient, error) {
	params, err := p.clientParams(creds)
	if err != nil {
		return nil, err
	}
	return twilio.NewRestClientWithParams(*params), nil
}

func (p *TwilioProvider) clientParams(creds Credentials) (*twilio.ClientParams, error) {
	accountSID, ok := creds["account_sid"]
	if !ok || accountSID == "" {
		return nil, fmt.Errorf("telephony: twilio: account_sid is not set")
	}
	authToken, ok := creds["account_token"]
	if !ok || authToken == "" {
		return nil, fmt.Errorf("telephony: twilio: account_token is not set")
	}
	return &twilio.ClientParams{Username: accountSID, Password: authToken}, nil
}
