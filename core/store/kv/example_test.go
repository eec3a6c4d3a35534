package kv

import (
	"fmt"
	"os"
	"path/filepath"
)

func ExampleBucket_Scan() {
	dir, err := os.MkdirTemp("", "rexec-kv")
	if err != nil {
		panic("failed to create folder: " + err.Error())
	}

	defer os.RemoveAll(dir)

	db, err := NewLevelDB(filepath.Join(dir, "substates"))
	if err != nil {
		panic("failed to open db: " + err.Error())
	}

	defer db.Close()

	balances := map[string]string{
		"vault/xrd":    "100",
		"account/main": "{}",
		"vault/btc":    "2",
	}

	err = db.Update(func(tx WritableTx) error {
		bucket, err := tx.GetBucketOrCreate([]byte("substates"))
		if err != nil {
			return err
		}

		for key, value := range balances {
			err = bucket.Set([]byte(key), []byte(value))
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		panic("update failed: " + err.Error())
	}

	err = db.View(func(tx ReadableTx) error {
		return tx.GetBucket([]byte("substates")).Scan([]byte("vault/"), func(key, value []byte) error {
			fmt.Printf("%s = %s\n", key, value)
			return nil
		})
	})
	if err != nil {
		panic("view failed: " + err.Error())
	}

	// Output: vault/btc = 2
	// vault/xrd = 100
}
