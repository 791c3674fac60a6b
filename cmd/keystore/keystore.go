package keystore

import (
	"fmt"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util/command"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/keystore"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tyler-smith/go-bip39"
)

const (
	fileFlag     = "file"
	generateFlag = "generate"
	lightFlag    = "light"

	// 256 bits of entropy give a 24 word mnemonic
	entropyBits = 256
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("keystore", newCreateCommand())
}

func newCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Encrypts an emulator mnemonic into a keystore file",
		Long: `Encrypts a BIP-39 mnemonic into a keystore v3 file for the emulator transport.
The mnemonic is read from stdin unless --generate is set. The password is
LEDGER_EMULATOR_PASSWORD or, when unset, prompted for.
Point LEDGER_EMULATOR_KEYSTORE at the file to use it.`,
		Args: cobra.NoArgs,
		RunE: runCreate,
	}

	cmd.Flags().String(fileFlag, "", "Keystore path, defaults to LEDGER_EMULATOR_KEYSTORE.")
	cmd.Flags().Bool(generateFlag, false, "Generate a new 24 word mnemonic and print it once.")
	cmd.Flags().Bool(lightFlag, false, "Use light scrypt parameters.")

	return cmd
}

func runCreate(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString(fileFlag)
	generate, _ := cmd.Flags().GetBool(generateFlag)
	light, _ := cmd.Flags().GetBool(lightFlag)

	cfg, err := command.LoadConfig()
	if err != nil {
		return err
	}
	util.ConfigureLogger(cfg.LoggerConfig())

	if path == "" {
		path = cfg.Ledger.EmulatorKeystore
	}
	if path == "" {
		return errors.New("no keystore path, set --file or LEDGER_EMULATOR_KEYSTORE")
	}

	secrets := command.NewSecretReader(cmd.InOrStdin(), cmd.ErrOrStderr())

	var mnemonic string
	if generate {
		entropy, err := bip39.NewEntropy(entropyBits)
		if err != nil {
			return errors.Wrap(err, "failed to generate entropy")
		}
		if mnemonic, err = bip39.NewMnemonic(entropy); err != nil {
			return errors.Wrap(err, "failed to generate mnemonic")
		}
	} else if mnemonic, err = secrets.Read("Mnemonic: "); err != nil {
		return err
	}

	password := cfg.Ledger.EmulatorPassword
	if password == "" {
		if password, err = secrets.Read("Password: "); err != nil {
			return err
		}
		confirm, err := secrets.Read("Repeat password: ")
		if err != nil {
			return err
		}
		if confirm != password {
			return errors.New("passwords do not match")
		}
	}

	params := keystore.DefaultScryptParams()
	if light {
		params = keystore.LightScryptParams()
	}

	f, err := keystore.NewStore(path, params).Create(cmd.Context(), mnemonic, password)
	if err != nil {
		return err
	}

	if generate {
		fmt.Fprintf(cmd.ErrOrStderr(), "Generated mnemonic, write it down:\n%s\n", mnemonic)
	}
	return command.PrintJSON(cmd.OutOrStdout(), map[string]string{"path": path, "id": f.ID})
}
