package stt

var GRPCError = grpcError
