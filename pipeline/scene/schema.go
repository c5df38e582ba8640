package scene

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// The RoadRunner service surface this client uses. Field numbers follow
// roadrunner_service_messages.proto from the RoadRunner install.
const (
	protoPackage = "mathworks.roadrunner"
	ServiceName  = protoPackage + ".RoadRunnerService"

	MethodLoadScene = "/" + ServiceName + "/LoadScene"
	MethodImport    = "/" + ServiceName + "/Import"
	MethodExport    = "/" + ServiceName + "/Export"
	MethodExit      = "/" + ServiceName + "/Exit"
)

// Format names carried in import/export settings.
const (
	FormatOpenStreetMap = "OpenStreetMap"
	FormatOpenDRIVE     = "OpenDRIVE"
)

// Field names shared by the request messages.
const (
	fieldFilePath       = "file_path"
	fieldImportSettings = "import_settings"
	fieldExportSettings = "export_settings"
	fieldFormatName     = "format_name"
)

// Schema holds the message descriptors for the RoadRunner calls.
type Schema struct {
	LoadSceneRequest  protoreflect.MessageDescriptor
	LoadSceneResponse protoreflect.MessageDescriptor
	ImportRequest     protoreflect.MessageDescriptor
	ImportResponse    protoreflect.MessageDescriptor
	ExportRequest     protoreflect.MessageDescriptor
	ExportResponse    protoreflect.MessageDescriptor
	ExitRequest       protoreflect.MessageDescriptor
	ExitResponse      protoreflect.MessageDescriptor
}

// RoadRunner is the schema used by App.
var RoadRunner = mustBuildSchema()

func stringField(name string, number int32) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		JsonName: proto.String(name),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
	}
}

func messageField(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		JsonName: proto.String(name),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
		TypeName: proto.String("." + protoPackage + "." + typeName),
	}
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

// BuildSchema assembles the descriptors at runtime. The file is not
// registered globally, so it cannot clash with generated Go stubs.
func BuildSchema() (*Schema, error) {
	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("indiasim/roadrunner_client.proto"),
		Package: proto.String(protoPackage),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("ImportSettings", stringField(fieldFormatName, 1)),
			message("ExportSettings", stringField(fieldFormatName, 1)),
			message("LoadSceneRequest", stringField(fieldFilePath, 1)),
			message("LoadSceneResponse"),
			message("ImportRequest",
				stringField(fieldFilePath, 1),
				messageField(fieldImportSettings, 2, "ImportSettings")),
			message("ImportResponse"),
			message("ExportRequest",
				stringField(fieldFilePath, 1),
				messageField(fieldExportSettings, 2, "ExportSettings")),
			message("ExportResponse"),
			message("ExitRequest"),
			message("ExitResponse"),
		},
	}
	fd, err := protodesc.NewFile(file, new(protoregistry.Files))
	if err != nil {
		return nil, fmt.Errorf("building RoadRunner descriptors: %w", err)
	}
	msgs := fd.Messages()
	return &Schema{
		LoadSceneRequest:  msgs.ByName("LoadSceneRequest"),
		LoadSceneResponse: msgs.ByName("LoadSceneResponse"),
		ImportRequest:     msgs.ByName("ImportRequest"),
		ImportResponse:    msgs.ByName("ImportResponse"),
		ExportRequest:     msgs.ByName("ExportRequest"),
		ExportResponse:    msgs.ByName("ExportResponse"),
		ExitRequest:       msgs.ByName("ExitRequest"),
		ExitResponse:      msgs.ByName("ExitResponse"),
	}, nil
}

func mustBuildSchema() *Schema {
	s, err := BuildSchema()
	if err != nil {
		panic(err)
	}
	return s
}

// NewLoadScene builds a LoadSceneRequest for the scene at path.
func (s *Schema) NewLoadScene(path string) *dynamicpb.Message {
	m := dynamicpb.NewMessage(s.LoadSceneRequest)
	setString(m, fieldFilePath, path)
	return m
}

// NewImport builds an ImportRequest for path in the given format.
func (s *Schema) NewImport(path, format string) *dynamicpb.Message {
	m := dynamicpb.NewMessage(s.ImportRequest)
	setString(m, fieldFilePath, path)
	setSettingsFormat(m, fieldImportSettings, format)
	return m
}

// NewExport builds an ExportRequest for path in the given format.
func (s *Schema) NewExport(path, format string) *dynamicpb.Message {
	m := dynamicpb.NewMessage(s.ExportRequest)
	setString(m, fieldFilePath, path)
	setSettingsFormat(m, fieldExportSettings, format)
	return m
}

// FilePath reads the file_path field of any request message.
func FilePath(m protoreflect.Message) string {
	fd := m.Descriptor().Fields().ByName(fieldFilePath)
	if fd == nil {
		return ""
	}
	return m.Get(fd).String()
}

// Format reads the settings format name of an import or export request.
func Format(m protoreflect.Message) string {
	for _, name := range []protoreflect.Name{fieldImportSettings, fieldExportSettings} {
		fd := m.Descriptor().Fields().ByName(name)
		if fd == nil || !m.Has(fd) {
			continue
		}
		settings := m.Get(fd).Message()
		return settings.Get(settings.Descriptor().Fields().ByName(fieldFormatName)).String()
	}
	return ""
}

func setString(m *dynamicpb.Message, name protoreflect.Name, value string) {
	m.Set(m.Descriptor().Fields().ByName(name), protoreflect.ValueOfString(value))
}

func setSettingsFormat(m *dynamicpb.Message, name protoreflect.Name, format string) {
	settings := m.Mutable(m.Descriptor().Fields().ByName(name)).Message()
	settings.Set(settings.Descriptor().Fields().ByName(fieldFormatName), protoreflect.ValueOfString(format))
}
