// elctl 查看和校验 EncryptedLike 合约的部署地址簿
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"encrypted_like/internal/pkg/chain"
	"encrypted_like/internal/pkg/chain/evm"
	"encrypted_like/internal/pkg/config"
	"encrypted_like/internal/pkg/wallet"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

// 命令行参数
var (
	configDir  string
	outputPath string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "elctl",
		Short:         "Inspect EncryptedLike deployments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configDir, "config", "c", "./configs",
		"Directory containing config.yaml.")

	deployments := &cobra.Command{
		Use:   "deployments",
		Short: "Contract address book per chain",
	}
	deployments.AddCommand(newListCmd(), newVerifyCmd(), newExportCmd())
	root.AddCommand(deployments)
	return root
}

// addressBook 配置中的链和它们的部署，devnet 链的地址由部署者推导
type addressBook struct {
	cfg         *config.Config
	deployments *chain.Deployments
	skipped     []chain.Network
}

func loadAddressBook() (*addressBook, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}

	var networks []chain.Network
	for _, ch := range cfg.Chains {
		if ch.Mode == config.ChainModeEVM {
			networks = append(networks, chain.Network{ChainID: ch.ChainID, Name: ch.Name})
		}
	}
	d, skipped, err := chain.LoadDeployments(cfg.Deployments.Dir, cfg.Deployments.Contract, networks)
	if err != nil {
		return nil, err
	}

	deployer, err := wallet.NewLocalWallet(cfg.Wallet.PrivateKeys[0], nil)
	if err != nil {
		return nil, fmt.Errorf("deployer key: %w", err)
	}
	for _, ch := range cfg.Chains {
		if ch.Mode != config.ChainModeDevnet {
			continue
		}
		if err := d.Add(chain.Deployment{
			ChainID: ch.ChainID,
			Network: ch.Name,
			Address: crypto.CreateAddress(deployer.Address(), 0),
		}); err != nil {
			return nil, err
		}
	}
	return &addressBook{cfg: cfg, deployments: d, skipped: skipped}, nil
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every configured chain and its contract address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			book, err := loadAddressBook()
			if err != nil {
				return err
			}
			printAddressBook(cmd.OutOrStdout(), book)
			return nil
		},
	}
}

func printAddressBook(out io.Writer, book *addressBook) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHAIN ID\tNETWORK\tMODE\tADDRESS")
	for _, ch := range book.cfg.Chains {
		addr := "not deployed"
		if dep, ok := book.deployments.Lookup(ch.ChainID); ok {
			addr = dep.Address.Hex()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", ch.ChainID, ch.Name, ch.Mode, addr)
	}
	w.Flush()
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that the deployed ABI exposes every method the client calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			book, err := loadAddressBook()
			if err != nil {
				return err
			}
			for _, n := range book.skipped {
				fmt.Fprintf(cmd.OutOrStdout(), "skip %s (%d): no deployment file\n", n.Name, n.ChainID)
			}

			raw := book.deployments.ABI()
			if len(raw) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no deployment ABI found, the built-in ABI is used")
				return nil
			}
			problems, err := verifyABI(raw)
			if err != nil {
				return err
			}
			if len(problems) > 0 {
				for _, p := range problems {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				return fmt.Errorf("deployed ABI is incompatible: %d problem(s)", len(problems))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deployed ABI is compatible")
			return nil
		},
	}
}

// verifyABI 对比部署 ABI 和内置 ABI，返回缺失或签名不一致的方法
func verifyABI(raw []byte) ([]string, error) {
	deployed, err := evm.ParseABI(raw)
	if err != nil {
		return nil, err
	}
	builtin, err := evm.ParseABI(nil)
	if err != nil {
		return nil, err
	}
	return compareMethods(builtin, deployed), nil
}

func compareMethods(want, got abi.ABI) []string {
	var problems []string
	for name, m := range want.Methods {
		dm, ok := got.Methods[name]
		switch {
		case !ok:
			problems = append(problems, "missing method "+m.Sig)
		case dm.Sig != m.Sig:
			problems = append(problems, fmt.Sprintf("method %s: deployed %s, want %s", name, dm.Sig, m.Sig))
		}
	}
	sort.Strings(problems)
	return problems
}

// exportEntry 前端使用的地址簿条目
type exportEntry struct {
	Address   string `json:"address"`
	ChainID   uint64 `json:"chainId"`
	ChainName string `json:"chainName"`
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the address book as JSON keyed by chain id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			book, err := loadAddressBook()
			if err != nil {
				return err
			}
			data, err := exportAddressBook(book.deployments)
			if err != nil {
				return err
			}
			if outputPath == "" || outputPath == "-" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			return os.WriteFile(outputPath, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "-",
		"Output file path. By default the JSON is printed to stdout.")
	return cmd
}

func exportAddressBook(d *chain.Deployments) ([]byte, error) {
	out := make(map[string]exportEntry)
	for _, dep := range d.All() {
		out[fmt.Sprint(dep.ChainID)] = exportEntry{
			Address:   dep.Address.Hex(),
			ChainID:   dep.ChainID,
			ChainName: dep.Network,
		}
	}
	return json.MarshalIndent(out, "", "  ")
}
