// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sequence is a placeholder for a spreadsheet-driven command
// sequencer.
//
// The idea is to read a spreadsheet of register operations and replay it as
// a script. conn/icd's "sequence" documents already cover the JSON-driven
// command-splicing use case, so this stays parked until a spreadsheet front
// end proves worth the extra file format dependency.
package sequence
