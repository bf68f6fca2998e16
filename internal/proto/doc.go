// Package proto holds the generated gRPC bindings for authkeeper.proto.
package proto

//go:generate protoc --go_out=. --go_opt=paths=source_relative --go-grpc_out=. --go-grpc_opt=paths=source_relative authkeeper.proto
