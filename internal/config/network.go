package config

import "fmt"

// NetworkConfig carries the per-network constants: the PFT issuer, the
// public endpoints used for queries and subscriptions, and the explorer
// URL template surfaced with submission results.
type NetworkConfig struct {
	// Name is "mainnet" or "testnet".
	Name string `json:"name" mapstructure:"name"`

	// PFTIssuer is the issuing address of the PFT token on this network.
	PFTIssuer string `json:"pft_issuer" mapstructure:"pft_issuer"`

	// RPCEndpoint is the public HTTPS JSON-RPC endpoint for one-shot queries.
	RPCEndpoint string `json:"rpc_endpoint" mapstructure:"rpc_endpoint"`

	// LocalRPCEndpoint is used for the fast delta poll when HasLocalNode is set.
	LocalRPCEndpoint string `json:"local_rpc_endpoint" mapstructure:"local_rpc_endpoint"`

	// WebsocketEndpoints are tried in order by the subscriber; on disconnect
	// the next one is used after backoff.
	WebsocketEndpoints []string `json:"websocket_endpoints" mapstructure:"websocket_endpoints"`

	// ExplorerTxTemplate formats a transaction hash into an explorer URL.
	ExplorerTxTemplate string `json:"explorer_tx_template" mapstructure:"explorer_tx_template"`
}

// Mainnet returns the production XRPL network constants.
func Mainnet() NetworkConfig {
	return NetworkConfig{
		Name:             "mainnet",
		PFTIssuer:        "rnQUEEg8yyjrwk9FhyXpKavHyCRJM9BDMW",
		RPCEndpoint:      "https://xrplcluster.com",
		LocalRPCEndpoint: "http://127.0.0.1:5005",
		WebsocketEndpoints: []string{
			"wss://xrplcluster.com",
			"wss://xrpl.ws",
			"wss://s1.ripple.com",
			"wss://s2.ripple.com",
		},
		ExplorerTxTemplate: "https://livenet.xrpl.org/transactions/%s",
	}
}

// Testnet returns the altnet constants.
func Testnet() NetworkConfig {
	return NetworkConfig{
		Name:             "testnet",
		PFTIssuer:        "rLX2tgumpiUE6kjr757Ao8HWiJzC8uuBSN",
		RPCEndpoint:      "https://s.altnet.rippletest.net:51234",
		LocalRPCEndpoint: "http://127.0.0.1:5005",
		WebsocketEndpoints: []string{
			"wss://s.altnet.rippletest.net:51233",
		},
		ExplorerTxTemplate: "https://testnet.xrpl.org/transactions/%s",
	}
}

// ExplorerTxURL renders the explorer link for a transaction hash.
func (n NetworkConfig) ExplorerTxURL(hash string) string {
	return fmt.Sprintf(n.ExplorerTxTemplate, hash)
}
