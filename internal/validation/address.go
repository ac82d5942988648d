package validation

import (
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/bardlex/powminer/pkg/errors"
)

// NetworkParams maps a configured network name to its chain parameters.
// BSV shares Bitcoin's base58 version bytes, so the btcd parameter sets
// decode its P2PKH and P2SH addresses unchanged.
func NetworkParams(network string) (*chaincfg.Params, error) {
	switch strings.ToLower(strings.TrimSpace(network)) {
	case "", "mainnet", "main":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3", "test":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, errors.New(errors.ErrorTypeConfig, "network_params", "unknown network").
			WithContext("network", network)
	}
}

// ValidateAddress decodes a payout address and checks it belongs to params.
func ValidateAddress(address string, params *chaincfg.Params) (btcutil.Address, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "validate_address", "address is empty")
	}

	decoded, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "validate_address",
			"address does not decode").
			WithContext("address", address)
	}

	if !decoded.IsForNet(params) {
		return nil, errors.New(errors.ErrorTypeValidation, "validate_address",
			"address belongs to another network").
			WithContext("address", address).
			WithContext("network", params.Name)
	}

	return decoded, nil
}
