// Package geth derives geth command-line arguments from an ordered option set.
//
// Options are translated one key at a time into --key [value] flags. A few
// keys have extra meaning:
//
//	datadir   defaults to ~/.ethereum-<networkid>
//	symlink   replaced with a link to the datadir, which then stands in for it
//	account   expands to --etherbase, --unlock and --password
//
// and the builder adds --rpc, --ws and --password when options that need
// them are given without them.
//
// Example:
//
//	opts := geth.NewOptions().
//	    Set("networkid", 1).
//	    Set("rpcport", 8545).
//	    Set("rpcapi", []string{"eth", "net", "web3"})
//	args, err := geth.NewBuilder().Build(opts)
//	// args.Argv: --networkid 1 --rpcport 8545 --rpcapi "eth net web3" --datadir ~/.ethereum-1 --rpc
package geth
