// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package runtimeenv

import "github.com/joho/godotenv"

// LoadEnv reads file as a .env-style variable file and adds every
// definition found to the process environment. Missing file is returned
// to the caller unchanged (os.IsNotExist holds) so callers can treat a
// missing .env as optional.
func LoadEnv(file string) error {
	return godotenv.Load(file)
}
