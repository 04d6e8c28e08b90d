package redis

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	redisproto "github.com/secmask/go-redisproto"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cafebazaar/kvdispatch/pkg/keyvaluestore"
)

type redisServer struct {
	listenPort int
	core       keyvaluestore.Service

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	listener    net.Listener
	connections *xsync.MapOf[net.Conn, struct{}]
}

func New(core keyvaluestore.Service, listenPort int) keyvaluestore.Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &redisServer{
		core:        core,
		listenPort:  listenPort,
		ctx:         ctx,
		cancel:      cancel,
		connections: xsync.NewMapOf[net.Conn, struct{}](),
	}
}

func (s *redisServer) Start() error {
	var err error

	s.listener, err = net.Listen("tcp", fmt.Sprintf(":%d", s.listenPort))
	if err != nil {
		return err
	}

	started := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		close(started)

		for {
			conn, err := s.listener.Accept()
			if err != nil {
				return
			}

			s.connections.Store(conn, struct{}{})
			s.wg.Add(1)
			go s.handleConnection(conn)
		}
	}()
	<-started

	return nil
}

func (s *redisServer) Close() error {
	s.cancel()
	err := s.listener.Close()

	s.connections.Range(func(conn net.Conn, _ struct{}) bool {
		_ = conn.Close()
		return true
	})

	s.wg.Wait()
	return err
}

func (s *redisServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.connections.Delete(conn)
		if err := conn.Close(); err != nil && s.ctx.Err() == nil {
			logrus.WithError(err).Info("unexpected error while closing connection")
		}
	}()

	parser := redisproto.NewParser(conn)
	writer := redisproto.NewWriter(bufio.NewWriter(conn))

	for {
		if err := s.connectionLoop(parser, writer); err != nil {
			if err != keyvaluestore.ErrClosed {
				logrus.WithError(err).Info("unexpected error while handling connection")
			}
			return
		}
	}
}

func (s *redisServer) connectionLoop(parser *redisproto.Parser, writer *redisproto.Writer) error {
	command, err := parser.ReadCommand()
	if err != nil {
		_, ok := err.(*redisproto.ProtocolError)
		if ok {
			if err := writer.WriteError(err.Error()); err != nil {
				return err
			}
			return writer.Flush()
		}

		return keyvaluestore.ErrClosed
	}

	return s.dispatchCommand(command, writer)
}

func (s *redisServer) dispatchCommand(command *redisproto.Command, writer *redisproto.Writer) error {
	cmd := strings.ToUpper(string(command.Get(0)))
	var err error

	switch cmd {
	case "SET":
		err = s.handleSetCommand(command, writer)

	case "DEL":
		err = s.handleDeleteCommand(command, writer)

	case "GET":
		err = s.handleGetCommand(command, writer)

	case "MGET":
		err = s.handleMGetCommand(command, writer)

	case "EXISTS":
		err = s.handleExistsCommand(command, writer)

	case "PING":
		err = s.handlePingCommand(command, writer)

	case "ECHO":
		err = s.handleEchoCommand(command, writer)

	default:
		err = writer.WriteError(fmt.Sprintf("command not supported: %v", cmd))
	}

	if err != nil {
		return err
	}

	if command.IsLast() {
		return writer.Flush()
	}

	return nil
}

// handleSetCommand accepts SET key value [EX s|PX ms] [REPLICATE n] [PERSIST n].
func (s *redisServer) handleSetCommand(command *redisproto.Command, writer *redisproto.Writer) error {
	if command.ArgCount() < 3 {
		return writer.WriteError("expected at least 3 arguments for SET command")
	}

	request := &keyvaluestore.SetRequest{
		Key:  string(command.Get(1)),
		Data: command.Get(2),
	}

	for i := 3; i < command.ArgCount(); i += 2 {
		option := strings.ToUpper(string(command.Get(i)))
		if i+1 >= command.ArgCount() {
			return writer.WriteError(fmt.Sprintf("missing value for SET option %v", option))
		}

		value, err := strconv.Atoi(string(command.Get(i + 1)))
		if err != nil {
			return writer.WriteError(err.Error())
		}
		if value < 0 {
			return writer.WriteError(fmt.Sprintf("negative value for SET option %v", option))
		}

		switch option {
		case "EX":
			request.Expiration = time.Duration(value) * time.Second

		case "PX":
			request.Expiration = time.Duration(value) * time.Millisecond

		case "REPLICATE":
			request.Options.Durability.ReplicateTo = value

		case "PERSIST":
			request.Options.Durability.PersistTo = value

		default:
			return writer.WriteError(fmt.Sprintf("unsupported SET option: %v", option))
		}
	}

	if _, err := s.core.Set(s.ctx, request); err != nil {
		return writer.WriteError(err.Error())
	}

	return writer.WriteSimpleString("OK")
}

func (s *redisServer) handleDeleteCommand(command *redisproto.Command, writer *redisproto.Writer) error {
	if command.ArgCount() < 2 {
		return writer.WriteError("expected at least 2 arguments for DEL command")
	}

	for i := 1; i < command.ArgCount(); i++ {
		request := &keyvaluestore.DeleteRequest{
			Key: string(command.Get(i)),
		}

		if err := s.core.Delete(s.ctx, request); err != nil {
			return writer.WriteError(err.Error())
		}
	}

	return writer.WriteInt(int64(command.ArgCount() - 1))
}

func (s *redisServer) handleGetCommand(command *redisproto.Command, writer *redisproto.Writer) error {
	if command.ArgCount() != 2 {
		return writer.WriteError("expected 2 arguments for GET command")
	}

	data, err := s.get(string(command.Get(1)))
	if err != nil {
		return writer.WriteError(err.Error())
	}

	return writer.WriteBulk(data)
}

func (s *redisServer) handleMGetCommand(command *redisproto.Command, writer *redisproto.Writer) error {
	if command.ArgCount() < 2 {
		return writer.WriteError("expected at least 2 arguments for MGET command")
	}

	values := make([][]byte, command.ArgCount()-1)
	for i := range values {
		data, err := s.get(string(command.Get(i + 1)))
		if err != nil {
			return writer.WriteError(err.Error())
		}

		values[i] = data
	}

	return writer.WriteBulks(values...)
}

// get returns nil data for a missing key.
func (s *redisServer) get(key string) ([]byte, error) {
	result, err := s.core.Get(s.ctx, &keyvaluestore.GetRequest{Key: key})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}

		return nil, err
	}

	if result == nil || result.Data == nil {
		return nil, fmt.Errorf("result is nil or does not contain data: %v", result)
	}

	return result.Data, nil
}

func (s *redisServer) handleExistsCommand(command *redisproto.Command, writer *redisproto.Writer) error {
	if command.ArgCount() < 2 {
		return writer.WriteError("expected at least 2 arguments for EXISTS command")
	}

	var count int64
	for i := 1; i < command.ArgCount(); i++ {
		response, err := s.core.Exists(s.ctx, &keyvaluestore.ExistsRequest{Key: string(command.Get(i))})
		if err != nil {
			return writer.WriteError(err.Error())
		}

		if response.Exists {
			count++
		}
	}

	return writer.WriteInt(count)
}

func (s *redisServer) handlePingCommand(command *redisproto.Command, writer *redisproto.Writer) error {
	if command.ArgCount() > 2 {
		return writer.WriteError("expected 1-2 arguments for Ping command")
	}

	if command.ArgCount() == 1 {
		return writer.WriteSimpleString("PONG")
	}

	return writer.WriteBulk(command.Get(1))
}

func (s *redisServer) handleEchoCommand(command *redisproto.Command, writer *redisproto.Writer) error {
	if command.ArgCount() != 2 {
		return writer.WriteError("expected 2 arguments for Echo command")
	}

	return writer.WriteBulk(command.Get(1))
}
