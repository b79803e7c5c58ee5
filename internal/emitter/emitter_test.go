package emitter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sqlxts/internal/analyzer"
	"sqlxts/internal/typelattice"
)

func TestEmitFlatParamsAndResult(t *testing.T) {
	shape := &analyzer.QueryShape{
		Name:         "GetUser",
		Params:       map[int]typelattice.FieldType{1: typelattice.Number{}},
		InsertParams: map[int]map[int]typelattice.FieldType{},
		Result: map[string][]typelattice.FieldType{
			"user_name": {typelattice.String{}},
			"id":        {typelattice.Number{}},
		},
	}

	out := Emit(shape, Options{})

	assert.Contains(t, out, "export type GetUserParams = [number];")
	assert.Contains(t, out, "export interface IGetUserResult {")
	assert.Contains(t, out, "id: number;")
	assert.Contains(t, out, "user_name: string;")
	assert.Contains(t, out, "export interface IGetUserQuery {")
	assert.Contains(t, out, "params: GetUserParams;")
	assert.Contains(t, out, "result: IGetUserResult;")
}

func TestEmitCamelCasesResultFieldNames(t *testing.T) {
	shape := &analyzer.QueryShape{
		Name:         "Q",
		Params:       map[int]typelattice.FieldType{},
		InsertParams: map[int]map[int]typelattice.FieldType{},
		Result:       map[string][]typelattice.FieldType{"user_name": {typelattice.String{}}},
	}

	out := Emit(shape, Options{CamelCaseColumnNames: true})
	assert.Contains(t, out, "userName: string;")
}

func TestEmitMultiRowInsertParamsAsTupleOfTuples(t *testing.T) {
	shape := &analyzer.QueryShape{
		Name: "InsertItems",
		InsertParams: map[int]map[int]typelattice.FieldType{
			0: {0: typelattice.Number{}, 1: typelattice.String{}},
			1: {0: typelattice.Number{}, 1: typelattice.String{}},
		},
		Result: map[string][]typelattice.FieldType{},
	}

	out := Emit(shape, Options{})
	assert.Contains(t, out, "export type InsertItemsParams = [[number, string], [number, string]];")
}

func TestEmitMissingParamIndexDefaultsToAny(t *testing.T) {
	shape := &analyzer.QueryShape{
		Name:         "Q",
		Params:       map[int]typelattice.FieldType{2: typelattice.String{}},
		InsertParams: map[int]map[int]typelattice.FieldType{},
		Result:       map[string][]typelattice.FieldType{},
	}

	out := Emit(shape, Options{})
	assert.Contains(t, out, "export type QParams = [any, string];")
}

func TestNameUpperCamelCases(t *testing.T) {
	assert.Equal(t, "GetUserById", Name("getUserById"))
	assert.Equal(t, "FindAll", Name("find_all"))
}
