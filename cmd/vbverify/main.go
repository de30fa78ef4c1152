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

// vbverify checks verified-boot artifacts from files: a detached signature
// over a data file, a keyblock, or a kernel preamble together with the
// kernel body it covers. It prints the parsed record details on success.
package main

import (
	"errors"
	"flag"
	"log"
	"os"

	"github.com/transparency-dev/vboot/api"
	"github.com/transparency-dev/vboot/vboot"
)

type Config struct {
	key      string
	sig      string
	data     string
	keyblock string
	preamble string
	body     string
}

var conf *Config

func init() {
	log.SetFlags(0)
	log.SetOutput(os.Stdout)

	conf = &Config{}

	flag.StringVar(&conf.key, "k", "", "packed public key file")
	flag.StringVar(&conf.sig, "s", "", "detached signature file")
	flag.StringVar(&conf.data, "d", "", "signed data file")
	flag.StringVar(&conf.keyblock, "b", "", "keyblock file (verified against -k, or self-hash without it)")
	flag.StringVar(&conf.preamble, "p", "", "kernel preamble file (needs -b for the data key)")
	flag.StringVar(&conf.body, "B", "", "kernel body file, checked against the preamble's body signature")
}

func loadKey(path string) (*vboot.PublicKey, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return vboot.UnpackKey(buf)
}

func printKey(name string, key *vboot.PublicKey) {
	log.Printf("%s: %d bit RSA, %v, version %d", name, key.Key.N.BitLen(), key.HashAlg, key.Version)
}

// verifySignature checks a detached signature file against a data file.
// Verification clobbers the signature buffer, which is fine here as it was
// read from disk for this one check.
func verifySignature() error {
	key, err := loadKey(conf.key)
	if err != nil {
		return err
	}

	sig, err := os.ReadFile(conf.sig)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(conf.data)
	if err != nil {
		return err
	}

	wb := vboot.NewWorkbuf(make([]byte, vboot.VerifyDataWorkbufBytes))
	if err := vboot.VerifyData(data, sig, key, &wb); err != nil {
		return err
	}

	printKey("key", key)
	log.Printf("signature valid over %d bytes", len(data))

	return nil
}

// verifyKeyblock checks a keyblock file, against the supplied key when one
// is given, against the block's own hash otherwise. Returns the data key
// for chained preamble verification.
func verifyKeyblock() (*vboot.PublicKey, error) {
	block, err := os.ReadFile(conf.keyblock)
	if err != nil {
		return nil, err
	}

	wb := vboot.NewWorkbuf(make([]byte, vboot.VerifyDataWorkbufBytes))

	var kb *api.Keyblock

	if len(conf.key) > 0 {
		var key *vboot.PublicKey

		if key, err = loadKey(conf.key); err != nil {
			return nil, err
		}

		if kb, err = vboot.VerifyKeyblock(block, key, &wb); err != nil {
			return nil, err
		}

		printKey("signing key", key)
	} else {
		if kb, err = vboot.VerifyKeyblockHash(block, &wb); err != nil {
			return nil, err
		}

		log.Printf("keyblock verified against its self-hash only")
	}

	dataKey, err := vboot.UnpackKey(block[api.KeyblockDataKeyOffset:kb.Size])
	if err != nil {
		return nil, err
	}

	log.Printf("keyblock: %d bytes, flags %#x", kb.Size, kb.Flags)
	printKey("data key", dataKey)

	return dataKey, nil
}

// verifyPreamble checks a kernel preamble with the keyblock's data key,
// then the kernel body when one is supplied.
func verifyPreamble(dataKey *vboot.PublicKey) error {
	buf, err := os.ReadFile(conf.preamble)
	if err != nil {
		return err
	}

	wb := vboot.NewWorkbuf(make([]byte, vboot.VerifyDataWorkbufBytes))
	p, err := vboot.VerifyKernelPreamble(buf, dataKey, &wb)
	if err != nil {
		return err
	}

	log.Printf("preamble: %d bytes, kernel version %d", p.Size, p.KernelVersion)
	log.Printf("body load address: %#x", p.BodyLoadAddress)
	log.Printf("bootloader: %#x+%#x", p.BootloaderAddress, p.BootloaderSize)

	if len(conf.body) == 0 {
		return nil
	}

	body, err := os.ReadFile(conf.body)
	if err != nil {
		return err
	}

	// Re-home the body signature as a standalone detached record: same
	// body and sizes, body relocated to directly follow the header.
	sig := make([]byte, api.SignatureSize+p.BodySignature.SigSize)
	api.Signature{
		SigOffset: api.SignatureSize,
		SigSize:   p.BodySignature.SigSize,
		DataSize:  p.BodySignature.DataSize,
	}.Put(sig)
	off := uint64(api.KernelPreambleBodySignatureOffset) + uint64(p.BodySignature.SigOffset)
	copy(sig[api.SignatureSize:], buf[off:off+uint64(p.BodySignature.SigSize)])

	if err := vboot.VerifyData(body, sig, dataKey, &wb); err != nil {
		return err
	}

	log.Printf("kernel body valid over %d bytes", p.BodySignature.DataSize)

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

	switch {
	case len(conf.preamble) > 0:
		if len(conf.keyblock) == 0 {
			err = errors.New("-p requires -b for the data key")
			return
		}

		var dataKey *vboot.PublicKey

		if dataKey, err = verifyKeyblock(); err != nil {
			return
		}

		err = verifyPreamble(dataKey)
	case len(conf.keyblock) > 0:
		_, err = verifyKeyblock()
	case len(conf.sig) > 0:
		err = verifySignature()
	default:
		flag.PrintDefaults()
	}
}
