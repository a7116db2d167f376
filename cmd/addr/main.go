package main

import (
	"flag"
	"fmt"
	"strings"

	. "github.com/alexdcox/qredit-go"
	"github.com/pkg/errors"
)

var log = Log()

var (
	passphrase  string
	address     string
	networkFile string
	version     uint
)

func main() {
	flag.StringVar(&passphrase, "passphrase", "", "Derive the public key and address for this passphrase")
	flag.StringVar(&address, "address", "", "The address to decode")
	flag.StringVar(&networkFile, "network", "", "Optional network descriptor yaml supplying the address version")
	flag.UintVar(&version, "version", uint(DefaultAddressVersion), "Address version byte, ignored when --network is set")
	flag.Parse()

	if passphrase == "" && address == "" {
		fmt.Println("usage: addr --passphrase PASSPHRASE | --address ADDRESS [--network FILE | --version BYTE]")
		return
	}

	if networkFile != "" {
		network, err := LoadNetworkConfigFile(networkFile)
		if err != nil {
			log.Fatal().Msgf("%+v", err)
		}
		version = uint(network.AddressVersion())
	}
	if version > 255 {
		log.Fatal().Msgf("%+v", errors.Wrapf(ErrInvalidConfig, "address version %d does not fit in a byte", version))
	}

	if passphrase != "" {
		derive(byte(version))
	}

	if address != "" {
		decode(strings.Trim(address, " \""))
	}
}

func derive(version byte) {
	crypto := Secp256k1Crypto{}

	publicKey, err := crypto.DerivePublicKey(passphrase)
	if err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	addr, err := crypto.DeriveAddress(publicKey, version)
	if err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	fmt.Println("")
	fmt.Printf("key type:          secp256k1\n")
	fmt.Printf("public:            %x\n", publicKey)
	fmt.Printf("version:           %d\n", version)
	fmt.Printf("address:           %s\n", addr)
	fmt.Println("")
}

func decode(addr string) {
	fmt.Printf("\ndecoding address:  %s\n\n", addr)

	decoded, err := DecodeAddress(addr)
	if err != nil {
		fmt.Printf("failed / invalid:  %v\n\n", err)
		return
	}

	reencoded, err := EncodeAddress(decoded)
	if err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	fmt.Printf("version:           %d\n", decoded[0])
	fmt.Printf("ripemd160:         %x\n", decoded[1:])
	fmt.Printf("reencoded:         %s\n\n", reencoded)
}
