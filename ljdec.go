package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/nikandfor/tlog"

	"github.com/glualang/ljdec/bytecode"
	"github.com/glualang/ljdec/lifter"
	"github.com/glualang/ljdec/output"
	"github.com/glualang/ljdec/utils"
)

var outputFlag = flag.String("o", "", "output file path (defaults to the input path with a .lua suffix)")

var verboseFlag = flag.Bool("v", false, "log lifting progress to stderr")

var listFlag = flag.Bool("list", false, "print a bytecode listing instead of decompiling")

func writeListing(outStream utils.ByteStream, proto *bytecode.Prototype, index int) (next int, err error) {
	next = index + 1

	err = outStream.WriteString(fmt.Sprintf("-- function %d (%d params, %d slots, %d instructions)\n",
		index, proto.Parameters, proto.FrameSize, len(proto.Instructions)))
	if err != nil {
		return
	}

	for i, instruction := range proto.Instructions {
		err = outStream.WriteString(fmt.Sprintf("%04d\t%v\n", i, instruction))
		if err != nil {
			return
		}
	}

	// Child prototypes sit in the constant pool in reverse definition
	// order.
	for i := len(proto.Constants); i > 0; i-- {
		if proto.Constants[i-1].Type != bytecode.KGC_CHILD {
			continue
		}

		err = outStream.WriteByte('\n')
		if err != nil {
			return
		}

		next, err = writeListing(outStream, proto.Constants[i-1].Prototype, next)
		if err != nil {
			return
		}
	}

	return
}

func programMain() (err error) {
	flag.Parse()

	outputPath := *outputFlag
	verbose := *verboseFlag
	listOnly := *listFlag

	otherArgs := flag.Args()

	if len(otherArgs) < 1 {
		fmt.Println("please pass the compiled chunk filename as argument or -h to see help")
		os.Exit(1)
		return
	}

	if verbose {
		tlog.DefaultLogger = tlog.New(tlog.NewConsoleWriter(os.Stderr, tlog.LstdFlags))
	}

	filename := otherArgs[0]

	module, err := bytecode.LoadFile(filename)
	if err != nil {
		return
	}

	if listOnly {
		listStream := utils.NewSimpleByteStream()
		_, err = writeListing(listStream, module.Main, 0)
		if err != nil {
			return
		}

		_, err = os.Stdout.Write(listStream.ToBytes())
		return
	}

	tr := tlog.Start("decompile", "file", filename)
	defer tr.Finish("err", &err)

	ctx := tlog.ContextWithSpan(context.Background(), tr)

	chunk, err := lifter.NewLifter(module).Lift(ctx)
	if err != nil {
		return
	}

	sourceStream := utils.NewSimpleByteStream()
	err = output.NewWriter(sourceStream).WriteChunk(chunk)
	if err != nil {
		return
	}

	if len(outputPath) < 1 {
		outputPath = filename + ".lua"
	}

	createReadWriteFileMode := os.O_CREATE | os.O_RDWR | os.O_TRUNC
	var writeFilePerMode os.FileMode = 0644

	outFile, openFileErr := os.OpenFile(outputPath, createReadWriteFileMode, writeFilePerMode)
	if openFileErr != nil {
		err = openFileErr
		return
	}
	defer outFile.Close()

	_, err = outFile.Write(sourceStream.ToBytes())
	return
}

func main() {
	err := programMain()
	if err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
