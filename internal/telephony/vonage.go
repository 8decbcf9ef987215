// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package telephony

import (
	"fmt"

	vonage "github.com/vonage/vonage-go-sdk"

	"github.com/rapidaai/voiceorc/internal/commons"
)

// VonageProvider builds an authenticated Vonage Voice API auth context from
// vault-style credentials.
type VonageProvider struct {
	logger commons.Logger
}

// NewVonageProvider constructs a VonageProvider.
func NewVonageProvider(logger commons.Logger) *VonageProvider {
	return &VonageProvider{logger: logger}
}

// Auth builds a vonage.Auth from creds, which must carry "application_id"
// and "private_key".
func (p *VonageProvider) Auth(creds Credentials) (vonage.Auth, error) {
	applicationID, ok := creds["application_id"]
	if !ok || applicationID == "" {
		return nil, fmt.Errorf("telephony: vonage: application_id is not set")
	}
	privateKey, ok := creds["private_key"]
	if !ok || privateKey == "" {
		return nil, fmt.Errorf("telephony: vonage: private_key is not set")
	}
	return vonage.CreateAuthFromAppPrivateKey(applicationID, []byte(privateKey))
}
