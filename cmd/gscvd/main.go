// Copyright 2024 The vboot authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// gscvd creates or validates the RO verification space inside an AP
// firmware image.
//
// Creation signs the declared flash ranges and embeds the verification
// data record, root key and platform keyblock into the image's RO_GSCVD
// area. Validation re-checks a previously prepared image end to end and
// prints the record details.
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/cheggaaa/pb/v3"

	"github.com/transparency-dev/vboot/api"
	"github.com/transparency-dev/vboot/gscvd"
	"github.com/transparency-dev/vboot/vboot"
)

type Config struct {
	ranges   string
	boardID  string
	rootKey  string
	keyblock string
	privKey  string
	outfile  string
}

var conf *Config

func init() {
	log.SetFlags(0)
	log.SetOutput(os.Stdout)

	conf = &Config{}

	flag.StringVar(&conf.ranges, "R", "", "comma separated hex offset:size tuples covered by the signature")
	flag.StringVar(&conf.boardID, "b", "", "board ID the image is signed for (hex)")
	flag.StringVar(&conf.rootKey, "r", "", "packed root public key file")
	flag.StringVar(&conf.keyblock, "k", "", "platform keyblock file, signed by the root key")
	flag.StringVar(&conf.privKey, "p", "", "platform private key file (PEM), signs the verification data")
	flag.StringVar(&conf.outfile, "o", "", "output image file (default: modify the input in place)")
}

// readImage loads a firmware image, showing progress as images run to
// many megabytes.
func readImage(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	bar := pb.Full.Start64(info.Size())
	defer bar.Finish()

	buf := make([]byte, info.Size())
	if _, err := io.ReadFull(bar.NewProxyReader(f), buf); err != nil {
		return nil, err
	}

	return buf, nil
}

func parseHex32(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	return uint32(v), err
}

func create(image []byte, imagePath string) error {
	boardID, err := parseHex32(conf.boardID)
	if err != nil {
		return fmt.Errorf("board ID: %v", err)
	}

	ranges, err := gscvd.ParseRanges(conf.ranges)
	if err != nil {
		return err
	}

	rootKey, err := os.ReadFile(conf.rootKey)
	if err != nil {
		return err
	}

	keyblock, err := os.ReadFile(conf.keyblock)
	if err != nil {
		return err
	}

	pemBytes, err := os.ReadFile(conf.privKey)
	if err != nil {
		return err
	}

	signer, err := gscvd.ParsePrivateKey(pemBytes, api.HashSHA256)
	if err != nil {
		return err
	}

	vd, err := gscvd.Build(image, gscvd.BuildParams{
		BoardID:  boardID,
		Ranges:   ranges,
		RootKey:  rootKey,
		Keyblock: keyblock,
		Signer:   signer,
	})
	if err != nil {
		return err
	}

	out := conf.outfile
	if len(out) == 0 {
		out = imagePath
	}
	if err := os.WriteFile(out, image, 0644); err != nil {
		return err
	}

	rkHash, err := gscvd.RootKeyDigest(rootKey)
	if err != nil {
		return err
	}

	log.Printf("image signed, board ID %#x, %d ranges", vd.BoardID, len(vd.Ranges))
	log.Printf("root key hash: %x", rkHash)

	return nil
}

func validate(image []byte, rootKeyHash string) error {
	var expected []byte

	if len(rootKeyHash) > 0 {
		var err error
		if expected, err = hex.DecodeString(rootKeyHash); err != nil {
			return fmt.Errorf("root key hash: %v", err)
		}
	}

	vd, err := gscvd.Validate(image, expected)
	if err != nil {
		return err
	}

	rkHash, err := vboot.HashCalculate(api.HashSHA256, vd.RootKeyBody)
	if err != nil {
		return err
	}

	log.Printf("board ID:         %#x", vd.BoardID)
	log.Printf("rollback counter: %d", vd.RollbackCounter)
	log.Printf("root key hash:    %x", rkHash.Digest[:api.HashSHA256.Size()])

	for _, r := range vd.Ranges {
		log.Printf("range:            %#08x:%#x", r.Offset, r.Size)
	}

	return nil
}

func main() {
	var err error

	defer func() {
		if err != nil {
			log.Fatalf("fatal error, %s", err)
		}
	}()

	flag.Parse()

	if flag.NArg() < 1 {
		flag.PrintDefaults()
		err = errors.New("missing firmware image argument")
		return
	}

	imagePath := flag.Arg(0)

	var image []byte
	image, err = readImage(imagePath)

	if err != nil {
		return
	}

	switch {
	case len(conf.ranges) > 0 || len(conf.rootKey) > 0 || len(conf.privKey) > 0:
		err = create(image, imagePath)
	default:
		err = validate(image, flag.Arg(1))
	}
}
