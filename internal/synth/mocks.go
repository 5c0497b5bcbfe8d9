// Package synth runs a Pulumi program against an in-process mock engine and
// records the resource graph it registers.
package synth

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pulumi/pulumi/sdk/v3/go/common/resource"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const getAvailabilityZonesToken = "aws:index/getAvailabilityZones:getAvailabilityZones"

// Recorder is a pulumi.MockResourceMonitor that remembers every resource
// registered with it. It fills in the provider-computed attributes the
// topology reads back (endpoints, DNS names, ARNs) with stable fake values.
type Recorder struct {
	Region string
	Zones  []string

	mu        sync.Mutex
	resources map[string]Resource
}

// NewRecorder returns a Recorder that pretends to run in region.
func NewRecorder(region string) *Recorder {
	return &Recorder{
		Region: region,
		Zones:  []string{region + "a", region + "b", region + "c"},
	}
}

var _ pulumi.MockResourceMonitor = (*Recorder)(nil)

func (r *Recorder) NewResource(args pulumi.MockResourceArgs) (string, resource.PropertyMap, error) {
	id := args.Name + "_id"
	if args.ID != "" {
		id = args.ID
	}

	if strings.HasPrefix(args.TypeToken, "pulumi:") {
		return id, args.Inputs, nil
	}

	rec := Resource{
		Type:   args.TypeToken,
		Name:   args.Name,
		Inputs: plainMap(args.Inputs),
	}
	if rpc := args.RegisterRPC; rpc != nil {
		rec.Parent = urnName(rpc.GetParent())
		rec.DependsOn = dependencyNames(rpc.GetDependencies())
	}

	r.mu.Lock()
	if r.resources == nil {
		r.resources = make(map[string]Resource)
	}
	r.resources[args.TypeToken+"::"+args.Name] = rec
	r.mu.Unlock()

	return id, r.state(args), nil
}

func (r *Recorder) Call(args pulumi.MockCallArgs) (resource.PropertyMap, error) {
	switch args.Token {
	case getAvailabilityZonesToken:
		names := make([]resource.PropertyValue, 0, len(r.Zones))
		ids := make([]resource.PropertyValue, 0, len(r.Zones))
		for i, z := range r.Zones {
			names = append(names, resource.NewStringProperty(z))
			ids = append(ids, resource.NewStringProperty(fmt.Sprintf("use1-az%d", i+1)))
		}
		return resource.PropertyMap{
			"id":      resource.NewStringProperty(r.Region),
			"names":   resource.NewArrayProperty(names),
			"zoneIds": resource.NewArrayProperty(ids),
		}, nil
	}
	return args.Args, nil
}

// Resources returns a snapshot of the recorded resources sorted by type and name.
func (r *Recorder) Resources() []Resource {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Resource, 0, len(r.resources))
	for _, rec := range r.resources {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// state echoes the inputs and adds the outputs a real provider would compute.
func (r *Recorder) state(args pulumi.MockResourceArgs) resource.PropertyMap {
	state := args.Inputs.Copy()
	set := func(key, value string) {
		if _, ok := state[resource.PropertyKey(key)]; !ok {
			state[resource.PropertyKey(key)] = resource.NewStringProperty(value)
		}
	}

	set("arn", fmt.Sprintf("arn:aws:%s:%s:123456789012:%s", service(args.TypeToken), r.Region, args.Name))
	set("name", args.Name)

	switch args.TypeToken {
	case "aws:rds/cluster:Cluster":
		set("endpoint", fmt.Sprintf("%s.cluster-mock.%s.rds.amazonaws.com", args.Name, r.Region))
		set("clusterIdentifier", args.Name)
		if _, ok := state["port"]; !ok {
			state["port"] = resource.NewNumberProperty(3306)
		}
	case "aws:lb/loadBalancer:LoadBalancer":
		set("dnsName", fmt.Sprintf("%s.%s.elb.amazonaws.com", args.Name, r.Region))
	case "aws:cloudfront/distribution:Distribution":
		set("domainName", args.Name+".cloudfront.net")
	case "aws:route53/zone:Zone":
		set("zoneId", "Z"+strings.ToUpper(strings.ReplaceAll(args.Name, "-", "")))
		state["nameServers"] = resource.NewArrayProperty([]resource.PropertyValue{
			resource.NewStringProperty("ns-1.awsdns-00.org"),
			resource.NewStringProperty("ns-2.awsdns-00.net"),
		})
	case "aws:route53/record:Record":
		if name, ok := state["name"]; ok && name.IsString() {
			set("fqdn", name.StringValue())
		}
	case "aws:acm/certificate:Certificate":
		domain := ""
		if d, ok := state["domainName"]; ok && d.IsString() {
			domain = d.StringValue()
		}
		state["domainValidationOptions"] = resource.NewArrayProperty([]resource.PropertyValue{
			resource.NewObjectProperty(resource.PropertyMap{
				"domainName":          resource.NewStringProperty(domain),
				"resourceRecordName":  resource.NewStringProperty("_validation." + domain + "."),
				"resourceRecordType":  resource.NewStringProperty("CNAME"),
				"resourceRecordValue": resource.NewStringProperty("_token.acm-validations.aws."),
			}),
		})
	case "random:index/randomPassword:RandomPassword":
		set("result", "mock-password-"+args.Name)
	}
	return state
}

// service is the provider module of a type token, "aws:ec2/vpc:Vpc" -> "ec2".
func service(token string) string {
	parts := strings.Split(token, ":")
	if len(parts) < 2 {
		return token
	}
	mod := parts[1]
	if i := strings.Index(mod, "/"); i >= 0 {
		mod = mod[:i]
	}
	if mod == "index" {
		return parts[0]
	}
	return mod
}

// urnName returns the resource name of urn, or "" for the root stack.
func urnName(urn string) string {
	if urn == "" || strings.Contains(urn, "pulumi:pulumi:Stack") {
		return ""
	}
	i := strings.LastIndex(urn, "::")
	if i < 0 {
		return urn
	}
	return urn[i+2:]
}

func dependencyNames(urns []string) []string {
	seen := make(map[string]bool, len(urns))
	var names []string
	for _, u := range urns {
		n := urnName(u)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// plainMap converts engine property values into plain Go values. Secrets are
// redacted; values the engine has not resolved yet render as "[unknown]".
func plainMap(props resource.PropertyMap) map[string]interface{} {
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(props))
	for k, v := range props {
		out[string(k)] = plain(v)
	}
	return out
}

func plain(v resource.PropertyValue) interface{} {
	switch {
	case v.IsNull():
		return nil
	case v.IsBool():
		return v.BoolValue()
	case v.IsNumber():
		n := v.NumberValue()
		if n == float64(int64(n)) {
			return int64(n)
		}
		return n
	case v.IsString():
		return v.StringValue()
	case v.IsArray():
		arr := v.ArrayValue()
		out := make([]interface{}, 0, len(arr))
		for _, e := range arr {
			out = append(out, plain(e))
		}
		return out
	case v.IsObject():
		m := plainMap(v.ObjectValue())
		if m == nil {
			m = map[string]interface{}{}
		}
		return m
	case v.IsSecret():
		return "[secret]"
	case v.IsComputed():
		return "[unknown]"
	case v.IsOutput():
		out := v.OutputValue()
		if out.Secret {
			return "[secret]"
		}
		if !out.Known {
			return "[unknown]"
		}
		return plain(out.Element)
	case v.IsResourceReference():
		return urnName(string(v.ResourceReferenceValue().URN))
	default:
		return v.String()
	}
}
