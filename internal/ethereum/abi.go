package ethereum

import (
	"io"
	"strings"
)

// Minimal ABIs: only the methods the client calls.

func metaNonceABI() io.Reader {
	return strings.NewReader(`[
		{
			"name": "metaNonces",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "trader", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`)
}

func erc20ABI() io.Reader {
	return strings.NewReader(`[
		{
			"name": "balanceOf",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "_owner", "type": "address"}],
			"outputs": [{"name": "balance", "type": "uint256"}]
		},
		{
			"name": "allowance",
			"type": "function",
			"stateMutability": "view",
			"inputs": [
				{"name": "_owner",   "type": "address"},
				{"name": "_spender", "type": "address"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "approve",
			"type": "function",
			"stateMutability": "nonpayable",
			"inputs": [
				{"name": "_spender", "type": "address"},
				{"name": "_value",   "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		}
	]`)
}
